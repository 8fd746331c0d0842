package iso8583

import "fmt"

// BitmapManager handles the ISO8583 64-bit primary and 64-bit secondary
// bitmaps. Bit 0 (MSB of the first byte) is field 1, the secondary
// bitmap indicator; it is managed here and never treated as a data field.
type BitmapManager struct {
	primary      [BitmapSize]byte
	secondary    [SecondaryBitmapSize]byte
	hasSecondary bool
}

func NewBitmapManager() *BitmapManager {
	return &BitmapManager{}
}

func bitPosition(fieldNum int) (byteIndex int, mask byte) {
	n := (fieldNum - 1) % 64
	return n / 8, 1 << (7 - n%8)
}

// SetField sets the bit for a data field (2-128). Setting any field above
// 64 also sets the secondary bitmap indicator.
func (bm *BitmapManager) SetField(fieldNum int) error {
	if fieldNum < 2 || fieldNum > MaxFieldNumber {
		return fmt.Errorf("%w: field number %d out of range", ErrInvalidField, fieldNum)
	}

	idx, mask := bitPosition(fieldNum)
	if fieldNum <= 64 {
		bm.primary[idx] |= mask
		return nil
	}

	bm.hasSecondary = true
	bm.primary[0] |= 0x80
	bm.secondary[idx] |= mask
	return nil
}

// IsFieldSet checks if the bit for the given field number is set.
func (bm *BitmapManager) IsFieldSet(fieldNum int) bool {
	if fieldNum < 1 || fieldNum > MaxFieldNumber {
		return false
	}
	idx, mask := bitPosition(fieldNum)
	if fieldNum <= 64 {
		return bm.primary[idx]&mask != 0
	}
	return bm.hasSecondary && bm.secondary[idx]&mask != 0
}

// ClearField clears the bit for the given field number.
// Clearing the last secondary field also clears the indicator.
func (bm *BitmapManager) ClearField(fieldNum int) error {
	if fieldNum < 2 || fieldNum > MaxFieldNumber {
		return fmt.Errorf("%w: field number %d out of range", ErrInvalidField, fieldNum)
	}

	idx, mask := bitPosition(fieldNum)
	if fieldNum <= 64 {
		bm.primary[idx] &^= mask
		return nil
	}
	if !bm.hasSecondary {
		return nil
	}

	bm.secondary[idx] &^= mask
	if bm.secondary == [SecondaryBitmapSize]byte{} {
		bm.hasSecondary = false
		bm.primary[0] &^= 0x80
	}
	return nil
}

// PresentFields returns the data fields set in the bitmap in ascending order.
func (bm *BitmapManager) PresentFields() []int {
	fields := make([]int, 0, 16)
	for fieldNum := 2; fieldNum <= 64; fieldNum++ {
		if bm.IsFieldSet(fieldNum) {
			fields = append(fields, fieldNum)
		}
	}
	if bm.hasSecondary {
		for fieldNum := 65; fieldNum <= MaxFieldNumber; fieldNum++ {
			if bm.IsFieldSet(fieldNum) {
				fields = append(fields, fieldNum)
			}
		}
	}
	return fields
}

// AppendTo appends the 8 or 16 bitmap bytes to dst.
func (bm *BitmapManager) AppendTo(dst []byte) []byte {
	dst = append(dst, bm.primary[:]...)
	if bm.hasSecondary {
		dst = append(dst, bm.secondary[:]...)
	}
	return dst
}

// Unpack reads the bitmap from data and returns the number of bytes consumed.
func (bm *BitmapManager) Unpack(data []byte) (int, error) {
	bm.Reset()
	if len(data) < BitmapSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedBitmap, BitmapSize, len(data))
	}
	copy(bm.primary[:], data[:BitmapSize])
	offset := BitmapSize

	if bm.primary[0]&0x80 == 0 {
		return offset, nil
	}
	if len(data) < offset+SecondaryBitmapSize {
		return 0, fmt.Errorf("%w: secondary bitmap indicated but only %d bytes remain", ErrMalformedBitmap, len(data)-offset)
	}
	copy(bm.secondary[:], data[offset:offset+SecondaryBitmapSize])
	bm.hasSecondary = true
	return offset + SecondaryBitmapSize, nil
}

// Reset clears all bits in both bitmaps.
func (bm *BitmapManager) Reset() {
	bm.primary = [BitmapSize]byte{}
	bm.secondary = [SecondaryBitmapSize]byte{}
	bm.hasSecondary = false
}

func (bm *BitmapManager) HasSecondaryBitmap() bool {
	return bm.hasSecondary
}

// Size returns the encoded size of the bitmap in bytes (8 or 16).
func (bm *BitmapManager) Size() int {
	if bm.hasSecondary {
		return BitmapSize + SecondaryBitmapSize
	}
	return BitmapSize
}

// EncodeBitmap encodes a set of data field numbers (2-128). The secondary
// bitmap is emitted, with field 1 set, iff any field above 64 is present.
func EncodeBitmap(fields []int) ([]byte, error) {
	var bm BitmapManager
	for _, fieldNum := range fields {
		if err := bm.SetField(fieldNum); err != nil {
			return nil, err
		}
	}
	return bm.AppendTo(make([]byte, 0, bm.Size())), nil
}

// DecodeBitmap returns the data field numbers present in the bitmap at the
// start of data, in ascending order, and the number of bytes consumed.
func DecodeBitmap(data []byte) ([]int, int, error) {
	var bm BitmapManager
	n, err := bm.Unpack(data)
	if err != nil {
		return nil, 0, err
	}
	return bm.PresentFields(), n, nil
}
