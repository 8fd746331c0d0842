package iso8583

import (
	"fmt"
	"sync"
	"time"
)

var builderPool = sync.Pool{
	New: func() any {
		return &Builder{
			errors: make([]error, 0, 4),
		}
	},
}

// Builder assembles a Message fluently. The first error is reported by Build.
type Builder struct {
	msg    *Message
	errors []error
}

func NewBuilder(opts ...MessageOption) *Builder {
	b := builderPool.Get().(*Builder)
	b.msg = NewMessage(opts...)
	b.errors = b.errors[:0]
	return b
}

// Release returns the builder to the pool
func (b *Builder) Release() {
	b.msg = nil
	b.errors = b.errors[:0]
	builderPool.Put(b)
}

func (b *Builder) MTI(mti string) *Builder {
	if err := b.msg.SetMTI(mti); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

func (b *Builder) Field(fieldNum int, value any) *Builder {
	if err := b.msg.SetField(fieldNum, value); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// Numeric sets a zero-padded numeric field.
func (b *Builder) Numeric(fieldNum int, value int, width int) *Builder {
	if err := b.msg.SetNumeric(fieldNum, value, width); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// Alpha sets a space-padded alpha field.
func (b *Builder) Alpha(fieldNum int, value string, width int) *Builder {
	if len(value) > width {
		b.errors = append(b.errors, &FieldError{Field: fieldNum, Err: fmt.Errorf("%w: %q exceeds %d", ErrFieldTooLong, value, width)})
		return b
	}
	return b.Field(fieldNum, PadRight(value, width, ' '))
}

// FieldIf sets the field only when value is non-empty.
func (b *Builder) FieldIf(fieldNum int, value string) *Builder {
	if value == "" {
		return b
	}
	return b.Field(fieldNum, value)
}

func (b *Builder) PAN(pan string) *Builder {
	return b.Field(FieldPAN, pan)
}

func (b *Builder) ProcessingCode(code string) *Builder {
	return b.Field(FieldProcessingCode, code)
}

// Amount sets DE4 from minor units.
func (b *Builder) Amount(minor int64) *Builder {
	if minor < 0 {
		b.errors = append(b.errors, &FieldError{Field: FieldAmount, Err: ErrInvalidNumeric})
		return b
	}
	return b.Field(FieldAmount, fmt.Sprintf("%012d", minor))
}

func (b *Builder) STAN(stan string) *Builder {
	return b.Field(FieldSTAN, stan)
}

// Timestamps sets DE7 (MMDDhhmmss), DE12 (hhmmss) and DE13 (MMDD).
func (b *Builder) Timestamps(t time.Time) *Builder {
	return b.
		Field(FieldTransmissionDateTime, t.Format("0102150405")).
		Field(FieldLocalTime, t.Format("150405")).
		Field(FieldLocalDate, t.Format("0102"))
}

func (b *Builder) TerminalID(id string) *Builder {
	return b.Alpha(FieldTerminalID, id, 8)
}

func (b *Builder) MerchantID(id string) *Builder {
	return b.Alpha(FieldMerchantID, id, 15)
}

func (b *Builder) Build() (*Message, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	msg := b.msg
	b.msg = nil
	return msg, nil
}

func (b *Builder) MustBuild() *Message {
	msg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return msg
}
