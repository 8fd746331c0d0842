package iso8583

import (
	"fmt"
	"io"
	"strconv"
)

// MaxFrameSize bounds the payload accepted by ReadFrame.
const MaxFrameSize = 64 * 1024

// AppendLengthIndicator appends the message length indicator (the prefix
// that tells a TCP peer how long the message is) to dst.
func AppendLengthIndicator(dst []byte, msgLen int, config LengthIndicatorConfig) ([]byte, error) {
	switch config.Type {
	case LengthIndicatorNone:
		return dst, nil
	case LengthIndicatorBinary:
		return appendBinaryLengthIndicator(dst, msgLen, config)
	case LengthIndicatorASCII:
		if config.Length != 4 {
			return dst, fmt.Errorf("ASCII length indicator must be 4 characters, got %d", config.Length)
		}
		if msgLen > 9999 {
			return dst, fmt.Errorf("message length %d exceeds 4-digit ASCII maximum", msgLen)
		}
		return appendDecimal(dst, msgLen, 4), nil
	case LengthIndicatorHex:
		if config.Length != 4 {
			return dst, fmt.Errorf("hex length indicator must be 4 characters, got %d", config.Length)
		}
		if msgLen > 0xFFFF {
			return dst, fmt.Errorf("message length %d exceeds 4-char hex maximum", msgLen)
		}
		return append(dst, fmt.Sprintf("%04X", msgLen)...), nil
	default:
		return dst, ErrUnsupportedLengthIndicator
	}
}

// ReadLengthIndicator reads the message length indicator from the buffer.
// Returns:
// 1. The message length (e.g., 200 for "0200")
// 2. The number of bytes consumed by the indicator (e.g., 4 for "0200")
// 3. An error, if any
func ReadLengthIndicator(buf []byte, config LengthIndicatorConfig) (int, int, error) {
	if config.Type == LengthIndicatorNone {
		return len(buf), 0, nil
	}
	if len(buf) < config.Length {
		return 0, 0, fmt.Errorf("%w: length indicator needs %d bytes, have %d", ErrBufferUnderrun, config.Length, len(buf))
	}

	switch config.Type {
	case LengthIndicatorBinary:
		switch config.Length {
		case 2:
			return int(buf[0])<<8 | int(buf[1]), 2, nil
		case 4:
			return int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3]), 4, nil
		default:
			return 0, 0, fmt.Errorf("invalid binary length indicator size: %d (must be 2 or 4)", config.Length)
		}

	case LengthIndicatorASCII:
		if config.Length != 4 {
			return 0, 0, fmt.Errorf("ASCII length indicator must be 4 characters, got %d", config.Length)
		}
		msgLen, err := parseASCIIToInt(buf[:4])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid ASCII length indicator: %w", err)
		}
		return msgLen, 4, nil

	case LengthIndicatorHex:
		if config.Length != 4 {
			return 0, 0, fmt.Errorf("hex length indicator must be 4 characters, got %d", config.Length)
		}
		msgLen, err := strconv.ParseInt(string(buf[:4]), 16, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid hex length indicator: %w", err)
		}
		return int(msgLen), 4, nil

	default:
		return 0, 0, ErrUnsupportedLengthIndicator
	}
}

// appendBinaryLengthIndicator writes binary length (2 or 4 bytes, big-endian).
func appendBinaryLengthIndicator(dst []byte, msgLen int, config LengthIndicatorConfig) ([]byte, error) {
	switch config.Length {
	case 2:
		if msgLen > 0xFFFF {
			return dst, fmt.Errorf("message length %d exceeds 2-byte maximum", msgLen)
		}
		return append(dst, byte(msgLen>>8), byte(msgLen)), nil
	case 4:
		if msgLen > 0x7FFFFFFF {
			return dst, fmt.Errorf("message length %d exceeds 4-byte maximum", msgLen)
		}
		return append(dst, byte(msgLen>>24), byte(msgLen>>16), byte(msgLen>>8), byte(msgLen)), nil
	default:
		return dst, fmt.Errorf("invalid binary length indicator size: %d (must be 2 or 4)", config.Length)
	}
}

// ReadFrame reads one length-prefixed message from r. Framing needs a
// length indicator; LengthIndicatorNone is rejected.
func ReadFrame(r io.Reader, config LengthIndicatorConfig) ([]byte, error) {
	if config.Type == LengthIndicatorNone || config.Length <= 0 {
		return nil, ErrUnsupportedLengthIndicator
	}
	header := make([]byte, config.Length)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	msgLen, _, err := ReadLengthIndicator(header, config)
	if err != nil {
		return nil, err
	}
	if msgLen <= 0 || msgLen > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrInvalidLength, msgLen)
	}
	payload := make([]byte, msgLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBufferUnderrun, err)
	}
	return payload, nil
}

// WriteFrame writes payload to w behind its length indicator in a single
// Write call.
func WriteFrame(w io.Writer, config LengthIndicatorConfig, payload []byte) error {
	if config.Type == LengthIndicatorNone {
		return ErrUnsupportedLengthIndicator
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", ErrFieldTooLong, len(payload))
	}
	frame, err := AppendLengthIndicator(make([]byte, 0, config.Length+len(payload)), len(payload), config)
	if err != nil {
		return err
	}
	frame = append(frame, payload...)
	_, err = w.Write(frame)
	return err
}
