package iso8583

import (
	"fmt"
	"regexp"
	"sync"
)

// ValidationRule defines the interface for a single validation rule.
type ValidationRule interface {
	Validate(field *Field) error
	Name() string
}

// CompiledValidator holds a pre-compiled set of content rules derived from
// the field specification table. Presence requirements are not part of the
// table; callers pass the required fields for the message at hand.
// It is safe for concurrent use.
type CompiledValidator struct {
	fieldRules map[int][]ValidationRule
	mu         sync.RWMutex
}

func NewCompiledValidator() *CompiledValidator {
	return &CompiledValidator{
		fieldRules: make(map[int][]ValidationRule),
	}
}

// AddFieldRule appends a rule for a single field.
func (cv *CompiledValidator) AddFieldRule(fieldNum int, rule ValidationRule) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.fieldRules[fieldNum] = append(cv.fieldRules[fieldNum], rule)
}

// ValidateMessage checks that every required field is present and that all
// present fields satisfy their rules. The first failure is returned.
func (cv *CompiledValidator) ValidateMessage(msg *Message, required []int) error {
	for _, fieldNum := range required {
		if !msg.HasField(fieldNum) {
			return &ValidationError{
				Field:   fieldNum,
				Rule:    "mandatory",
				Message: "mandatory field missing",
			}
		}
	}

	for _, fieldNum := range msg.GetPresentFields() {
		field, err := msg.GetField(fieldNum)
		if err != nil {
			return err
		}
		if err := cv.ValidateField(fieldNum, &field); err != nil {
			return err
		}
	}
	return nil
}

// ValidateField validates a single field against its rules.
func (cv *CompiledValidator) ValidateField(fieldNum int, field *Field) error {
	cv.mu.RLock()
	defer cv.mu.RUnlock()

	for _, rule := range cv.fieldRules[fieldNum] {
		if err := rule.Validate(field); err != nil {
			return &ValidationError{
				Field:   fieldNum,
				Rule:    rule.Name(),
				Message: err.Error(),
			}
		}
	}
	return nil
}

// LengthRule validates the field's length.
type LengthRule struct {
	MinLength   int
	MaxLength   int
	ExactLength int
}

func (r *LengthRule) Name() string {
	return "length"
}

func (r *LengthRule) Validate(field *Field) error {
	length := field.Length()

	if r.ExactLength > 0 && length != r.ExactLength {
		return fmt.Errorf("expected length %d, got %d", r.ExactLength, length)
	}
	if r.MinLength > 0 && length < r.MinLength {
		return fmt.Errorf("length %d below minimum %d", length, r.MinLength)
	}
	if r.MaxLength > 0 && length > r.MaxLength {
		return fmt.Errorf("length %d exceeds maximum %d", length, r.MaxLength)
	}
	return nil
}

// NumericRule validates that the field contains only numeric digits.
type NumericRule struct{}

func (r *NumericRule) Name() string {
	return "numeric"
}

func (r *NumericRule) Validate(field *Field) error {
	for i, b := range field.Bytes() {
		if b < '0' || b > '9' {
			return fmt.Errorf("non-numeric character at position %d", i)
		}
	}
	return nil
}

// PrintableRule validates that the field contains only printable ASCII (32-126).
type PrintableRule struct{}

func (r *PrintableRule) Name() string {
	return "printable"
}

func (r *PrintableRule) Validate(field *Field) error {
	for i, b := range field.Bytes() {
		if b < 32 || b > 126 {
			return fmt.Errorf("invalid character at position %d", i)
		}
	}
	return nil
}

// RegexRule validates the field's string value against a pattern.
type RegexRule struct {
	Pattern *regexp.Regexp
}

func (r *RegexRule) Name() string {
	return "regex"
}

func (r *RegexRule) Validate(field *Field) error {
	if !r.Pattern.MatchString(field.String()) {
		return fmt.Errorf("value does not match %s", r.Pattern.String())
	}
	return nil
}

var track2Pattern = regexp.MustCompile(`^[0-9]{12,19}[=D][0-9]{4,}F?$`)

// TrackDataRule checks the shape of track 2 data: PAN, separator, expiry
// and service code.
type TrackDataRule struct{}

func (r *TrackDataRule) Name() string {
	return "track_data"
}

func (r *TrackDataRule) Validate(field *Field) error {
	if !track2Pattern.Match(field.Bytes()) {
		return fmt.Errorf("malformed track 2 data")
	}
	return nil
}

// compileValidator derives content rules from the field table.
func compileValidator(fields map[int]FieldConfig) *CompiledValidator {
	validator := NewCompiledValidator()

	for fieldNum, fc := range fields {
		var rules []ValidationRule

		switch fc.Format {
		case FormatFixedNumeric, FormatFixedAlpha, FormatBinary:
			rules = append(rules, &LengthRule{MaxLength: fc.Length})
		case FormatLLVAR, FormatLLLVAR:
			rules = append(rules, &LengthRule{MaxLength: fc.MaxLength})
		}

		switch fc.Type {
		case FieldTypeN:
			rules = append(rules, &NumericRule{})
		case FieldTypeANS, FieldTypeAN:
			rules = append(rules, &PrintableRule{})
		case FieldTypeZ:
			rules = append(rules, &TrackDataRule{})
		}

		if len(rules) > 0 {
			validator.fieldRules[fieldNum] = rules
		}
	}
	return validator
}
