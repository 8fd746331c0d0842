package iso8583

// MessageOption represents a functional option for message configuration.
// Options that fail (bad MTI, bad field number) leave the message unchanged;
// use Builder when the error matters.
type MessageOption func(*Message)

// WithMTI sets the Message Type Indicator
func WithMTI(mti string) MessageOption {
	return func(m *Message) {
		_ = m.SetMTI(mti)
	}
}

// WithField sets a field value during message creation
func WithField(fieldNum int, value any) MessageOption {
	return func(m *Message) {
		_ = m.SetField(fieldNum, value)
	}
}

// WithFields sets multiple fields during message creation
func WithFields(fields map[int]any) MessageOption {
	return func(m *Message) {
		for fieldNum, value := range fields {
			_ = m.SetField(fieldNum, value)
		}
	}
}

// PackagerOption represents a functional option for packager configuration
type PackagerOption func(*PackagerConfig)

// WithFieldConfig adds or replaces a field configuration
func WithFieldConfig(fieldNum int, config FieldConfig) PackagerOption {
	return func(pc *PackagerConfig) {
		if pc.Fields == nil {
			pc.Fields = make(map[int]FieldConfig)
		}
		pc.Fields[fieldNum] = config
	}
}

func WithMTIEncodingOption(enc MTIEncoding) PackagerOption {
	return func(pc *PackagerConfig) {
		pc.MTIEncoding = enc
	}
}

func WithLengthIndicator(config LengthIndicatorConfig) PackagerOption {
	return func(pc *PackagerConfig) {
		pc.LengthIndicator = config
	}
}
