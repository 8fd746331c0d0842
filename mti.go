package iso8583

import "fmt"

// ValidateMTI checks that mti is four decimal digits with a known
// message class (second digit 1-8).
func ValidateMTI(mti string) error {
	if len(mti) != 4 || !isDigits([]byte(mti)) {
		return fmt.Errorf("%w: %q", ErrUnknownMTI, mti)
	}
	if mti[1] < '1' || mti[1] > '8' {
		return fmt.Errorf("%w: unknown message class in %q", ErrUnknownMTI, mti)
	}
	return nil
}

// IsRequestMTI reports whether the function digit (third) is even.
func IsRequestMTI(mti string) bool {
	return len(mti) == 4 && (mti[2]-'0')%2 == 0
}

// ResponseMTI returns the response MTI paired with a request MTI
// (0200 -> 0210, 0420 -> 0430).
func ResponseMTI(mti string) (string, error) {
	if err := ValidateMTI(mti); err != nil {
		return "", err
	}
	if !IsRequestMTI(mti) {
		return "", fmt.Errorf("%w: %s is already a response", ErrUnknownMTI, mti)
	}
	b := []byte(mti)
	b[2]++
	return string(b), nil
}

func packMTI(dst []byte, mti [4]byte, enc MTIEncoding) ([]byte, error) {
	if err := ValidateMTI(string(mti[:])); err != nil {
		return dst, err
	}
	if enc == MTIEncodingASCII {
		return append(dst, mti[:]...), nil
	}
	return packBCD(dst, mti[:], 4)
}

func unpackMTI(data []byte, enc MTIEncoding) (string, int, error) {
	var (
		raw []byte
		n   int
	)
	if enc == MTIEncodingASCII {
		if len(data) < 4 {
			return "", 0, fmt.Errorf("%w: message shorter than MTI", ErrUnknownMTI)
		}
		raw, n = data[:4], 4
	} else {
		digits, size, err := unpackBCD(data, 4)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrUnknownMTI, err)
		}
		raw, n = digits, size
	}
	mti := string(raw)
	if err := ValidateMTI(mti); err != nil {
		return "", 0, err
	}
	return mti, n, nil
}
