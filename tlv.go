package iso8583

import (
	"bytes"
	"fmt"
	"strings"
)

// EMV tags lifted from ICC data into dedicated data elements.
var (
	TagPAN            = []byte{0x5A}
	TagTrack2         = []byte{0x57}
	TagExpiryDate     = []byte{0x5F, 0x24}
	TagPANSequenceNum = []byte{0x5F, 0x34}
)

// ParseEMV parses BER-TLV encoded ICC data (DE55) with variable tag and
// length encoding. Values alias data.
func ParseEMV(data []byte) ([]TLV, error) {
	tlvs := make([]TLV, 0, 16)
	offset := 0
	for offset < len(data) {
		tagStart := offset
		firstByte := data[offset]
		offset++

		// Subsequent tag bytes follow while bits 5-1 of the first byte are all set.
		if firstByte&0x1F == 0x1F {
			for offset < len(data) && data[offset]&0x80 != 0 {
				offset++
			}
			if offset >= len(data) {
				return nil, &TLVError{Tag: data[tagStart:], Err: ErrInvalidTLV}
			}
			offset++
		}
		tag := data[tagStart:offset]

		if offset >= len(data) {
			return nil, &TLVError{Tag: tag, Err: fmt.Errorf("%w: missing length", ErrInvalidTLV)}
		}
		lengthByte := data[offset]
		offset++

		length := int(lengthByte)
		if lengthByte&0x80 != 0 {
			numLengthBytes := int(lengthByte & 0x7F)
			if numLengthBytes == 0 || numLengthBytes > 3 {
				return nil, &TLVError{Tag: tag, Err: fmt.Errorf("%w: %d length bytes", ErrInvalidTLV, numLengthBytes)}
			}
			if offset+numLengthBytes > len(data) {
				return nil, &TLVError{Tag: tag, Err: fmt.Errorf("%w: truncated length", ErrInvalidTLV)}
			}
			length = 0
			for i := 0; i < numLengthBytes; i++ {
				length = length<<8 | int(data[offset])
				offset++
			}
		}

		if offset+length > len(data) {
			return nil, &TLVError{Tag: tag, Err: fmt.Errorf("%w: value needs %d bytes, have %d", ErrInvalidTLV, length, len(data)-offset)}
		}
		tlvs = append(tlvs, TLV{Tag: tag, Length: length, Value: data[offset : offset+length]})
		offset += length
	}
	return tlvs, nil
}

// PackEMV encodes tlvs as BER-TLV.
func PackEMV(tlvs []TLV) ([]byte, error) {
	out := make([]byte, 0, 64)
	for _, tlv := range tlvs {
		if len(tlv.Tag) == 0 {
			return nil, ErrInvalidTLV
		}
		out = append(out, tlv.Tag...)

		n := len(tlv.Value)
		switch {
		case n < 0x80:
			out = append(out, byte(n))
		case n <= 0xFF:
			out = append(out, 0x81, byte(n))
		case n <= 0xFFFF:
			out = append(out, 0x82, byte(n>>8), byte(n))
		default:
			return nil, &TLVError{Tag: tlv.Tag, Err: fmt.Errorf("%w: value of %d bytes", ErrInvalidTLV, n)}
		}
		out = append(out, tlv.Value...)
	}
	return out, nil
}

// FindTLV returns the first element with the given tag.
func FindTLV(tlvs []TLV, tag []byte) (TLV, bool) {
	for _, tlv := range tlvs {
		if bytes.Equal(tlv.Tag, tag) {
			return tlv, true
		}
	}
	return TLV{}, false
}

// ICCData holds the card elements carried inside DE55 that are also sent
// as their own data elements.
type ICCData struct {
	PAN         string // DE2
	Expiry      string // YYMMDD
	PANSequence string // DE23, 3 digits
	Track2      string // DE35
}

// ExpiryYYMM returns the expiry in the DE14 layout.
func (d ICCData) ExpiryYYMM() string {
	if len(d.Expiry) < 4 {
		return ""
	}
	return d.Expiry[:4]
}

// ExtractICCData parses DE55 and picks out PAN, expiry, PAN sequence number
// and track 2 equivalent data when present.
func ExtractICCData(data []byte) (ICCData, error) {
	tlvs, err := ParseEMV(data)
	if err != nil {
		return ICCData{}, err
	}

	var out ICCData
	if tlv, ok := FindTLV(tlvs, TagPAN); ok {
		out.PAN = strings.TrimRight(HexUpper(tlv.Value), "F")
	}
	if tlv, ok := FindTLV(tlvs, TagExpiryDate); ok {
		out.Expiry = HexUpper(tlv.Value)
	}
	if tlv, ok := FindTLV(tlvs, TagPANSequenceNum); ok {
		out.PANSequence = PadLeft(strings.TrimLeft(HexUpper(tlv.Value), "0"), 3, '0')
	}
	if tlv, ok := FindTLV(tlvs, TagTrack2); ok {
		out.Track2 = strings.ReplaceAll(strings.TrimRight(HexUpper(tlv.Value), "F"), "D", "=")
	}

	for name, v := range map[string]string{"PAN": out.PAN, "expiry": out.Expiry, "PAN sequence": out.PANSequence} {
		if v != "" && !isDigits([]byte(v)) {
			return ICCData{}, fmt.Errorf("%w: %s is not numeric", ErrInvalidTLV, name)
		}
	}
	return out, nil
}
