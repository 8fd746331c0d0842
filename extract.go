package iso8583

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExtractSpec describes how to lift one value out of a message field:
// optional substring, padding trim, data type and format checks.
type ExtractSpec struct {
	Field    int    `json:"field" yaml:"field"`
	DataType string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	From     int    `json:"from,omitempty" yaml:"from,omitempty"`   // 1-based, inclusive
	Until    int    `json:"until,omitempty" yaml:"until,omitempty"` // 1-based, inclusive
	Trim     string `json:"trim,omitempty" yaml:"trim,omitempty"`   // "left", "right", "both"
	PadChar  string `json:"pad_char,omitempty" yaml:"pad_char,omitempty"`
	Format   string `json:"format,omitempty" yaml:"format,omitempty"`
	Required bool   `json:"required" yaml:"required"`
}

const (
	TrimLeft  = "left"
	TrimRight = "right"
	TrimBoth  = "both"
)

const (
	FormatMMDDhhmmss = "MMDDhhmmss"
	FormatYYYYMMDD   = "YYYYMMDD"
	FormatHHMMSS     = "HHMMSS"
	FormatMMDD       = "MMDD"
)

const (
	DataTypeNumeric      = "numeric"
	DataTypeAlphanumeric = "alphanumeric"
	DataTypeHex          = "hex"
	DataTypeAny          = "any"
)

// Extract applies specs to msg and returns the extracted values by key.
// Absent optional fields are omitted. All failures are collected and
// reported together, sorted by key.
func Extract(msg *Message, specs map[string]ExtractSpec) (map[string]string, error) {
	values := make(map[string]string, len(specs))
	var errs []string

	for key, spec := range specs {
		raw, err := msg.GetString(spec.Field)
		if err != nil {
			if spec.Required {
				errs = append(errs, fmt.Sprintf("%s (field %d): required but not found", key, spec.Field))
			}
			continue
		}

		value := raw
		if spec.From > 0 || spec.Until > 0 {
			value, err = substring(raw, spec.From, spec.Until)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s (field %d): %v", key, spec.Field, err))
				continue
			}
		}

		value = trimPadding(value, spec.Trim, spec.PadChar)

		if err := checkFormat(value, spec.Format); err != nil {
			errs = append(errs, fmt.Sprintf("%s (field %d): %v", key, spec.Field, err))
			continue
		}
		if err := checkDataType(value, spec.DataType); err != nil {
			errs = append(errs, fmt.Sprintf("%s (field %d): %v", key, spec.Field, err))
			continue
		}

		values[key] = value
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return values, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(errs, "; "))
	}
	return values, nil
}

func trimPadding(value, trim, padChar string) string {
	if padChar == "" {
		padChar = " "
	}
	switch trim {
	case TrimLeft:
		return strings.TrimLeft(value, padChar)
	case TrimRight:
		return strings.TrimRight(value, padChar)
	case TrimBoth:
		return strings.Trim(value, padChar)
	default:
		return value
	}
}

func checkFormat(value, format string) error {
	var layout string
	switch format {
	case "":
		return nil
	case FormatMMDDhhmmss:
		layout = "0102150405"
	case FormatYYYYMMDD:
		layout = "20060102"
	case FormatHHMMSS:
		layout = "150405"
	case FormatMMDD:
		layout = "0102"
	default:
		return fmt.Errorf("unknown format %s", format)
	}
	if len(value) != len(layout) {
		return fmt.Errorf("invalid %s: expected %d digits, got %d", format, len(layout), len(value))
	}
	if _, err := time.Parse(layout, value); err != nil {
		return fmt.Errorf("invalid %s: %w", format, err)
	}
	return nil
}

func substring(value string, from, until int) (string, error) {
	if from < 1 || until < from {
		return "", fmt.Errorf("invalid range: from=%d until=%d", from, until)
	}
	if until > len(value) {
		return "", fmt.Errorf("end index %d exceeds value length %d", until, len(value))
	}
	return value[from-1 : until], nil
}

func checkDataType(value, dataType string) error {
	switch dataType {
	case "", DataTypeAny:
		return nil
	case DataTypeNumeric:
		for i, r := range value {
			if r < '0' || r > '9' {
				return fmt.Errorf("invalid numeric character '%c' at position %d", r, i)
			}
		}
	case DataTypeAlphanumeric:
		for i, r := range value {
			if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
				return fmt.Errorf("invalid alphanumeric character '%c' at position %d", r, i)
			}
		}
	case DataTypeHex:
		for i, r := range value {
			if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')) {
				return fmt.Errorf("invalid hex character '%c' at position %d", r, i)
			}
		}
	default:
		return fmt.Errorf("unknown data type: %s", dataType)
	}
	return nil
}
