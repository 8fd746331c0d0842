package iso8583

const hexTableUpper = "0123456789ABCDEF"

// encodeHexUpper converts src to uppercase hex and writes it to dst.
func encodeHexUpper(dst, src []byte) {
	for i, v := range src {
		dst[i*2] = hexTableUpper[v>>4]
		dst[i*2+1] = hexTableUpper[v&0x0f]
	}
}

// HexUpper returns the uppercase hex encoding of b.
func HexUpper(b []byte) string {
	out := make([]byte, len(b)*2)
	encodeHexUpper(out, b)
	return string(out)
}
