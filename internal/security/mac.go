// Package security signs and verifies message authentication codes.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mkadit/iso8583/v2"
)

var ErrMACMismatch = errors.New("MAC mismatch")

// MACLength is the number of bytes carried in DE64 and DE128.
const MACLength = 8

// Signer computes a truncated HMAC-SHA256 over the packed message up to
// the MAC field. DE64 is used when the message has no secondary bitmap
// fields, DE128 otherwise.
type Signer struct {
	key      []byte
	packager *iso8583.CompiledPackager
}

// NewSigner builds a signer from a hex key.
func NewSigner(keyHex string, packager *iso8583.CompiledPackager) (*Signer, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("MAC key: %w", err)
	}
	if len(key) < 16 {
		return nil, fmt.Errorf("MAC key must be at least 16 bytes, got %d", len(key))
	}
	return &Signer{key: key, packager: packager}, nil
}

// MACField returns the data element that carries the MAC for msg.
func MACField(msg *iso8583.Message) int {
	for _, n := range msg.GetPresentFields() {
		if n > iso8583.FieldPrimaryMAC {
			return iso8583.FieldSecondaryMAC
		}
	}
	return iso8583.FieldPrimaryMAC
}

func (s *Signer) compute(msg *iso8583.Message, field int) ([]byte, error) {
	input, err := s.packager.MACInput(msg, field)
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(input)
	return h.Sum(nil)[:MACLength], nil
}

// Sign sets the MAC field on msg.
func (s *Signer) Sign(msg *iso8583.Message) error {
	field := MACField(msg)
	if field == iso8583.FieldSecondaryMAC && msg.HasField(iso8583.FieldPrimaryMAC) {
		if err := msg.ClearField(iso8583.FieldPrimaryMAC); err != nil {
			return err
		}
	}
	mac, err := s.compute(msg, field)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return msg.SetField(field, mac)
}

// Verify checks the MAC field of msg. A missing MAC is a mismatch.
func (s *Signer) Verify(msg *iso8583.Message) error {
	field := MACField(msg)
	got, err := msg.GetBytes(field)
	if err != nil {
		return fmt.Errorf("%w: field %d absent", ErrMACMismatch, field)
	}
	want, err := s.compute(msg, field)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !hmac.Equal(got, want) {
		return ErrMACMismatch
	}
	return nil
}
