// keys.go - Private keys, public keys and their base58 text encodings.

package contract

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/mr-tron/base58"
)

const (
	addressVersion    byte = 0x1c
	privateKeyVersion byte = 0x5a

	encodedLen = 1 + fr.Bytes
)

var (
	// ErrInvalidAddress is returned for text that does not decode to an address.
	ErrInvalidAddress = errors.New("contract: invalid address")

	// ErrInvalidPrivateKey is returned for text that does not decode to a private key.
	ErrInvalidPrivateKey = errors.New("contract: invalid private key")
)

// PrivateKey is a secret scalar. Its public key is MiMC(sk).
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is the field element MiMC(sk). Its text form is an address.
type PublicKey struct {
	elem fr.Element
}

// GeneratePrivateKey samples a fresh private key.
func GeneratePrivateKey() (*PrivateKey, error) {
	s, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{scalar: s}, nil
}

// ParsePrivateKey decodes the base58 text form of a private key.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	e, err := decodeVersioned(s, privateKeyVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if e.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidPrivateKey)
	}
	return &PrivateKey{scalar: e}, nil
}

// PublicKey derives the public key of sk.
func (sk *PrivateKey) PublicKey() PublicKey {
	return PublicKey{elem: mimcHash(sk.scalar)}
}

// String returns the base58 text form of the key.
func (sk *PrivateKey) String() string {
	return encodeVersioned(privateKeyVersion, sk.scalar)
}

// Scalar returns the decimal form of the secret scalar, for witness assignment.
func (sk *PrivateKey) Scalar() string {
	return sk.scalar.String()
}

// ParseAddress decodes an address into a public key.
func ParseAddress(s string) (PublicKey, error) {
	e, err := decodeVersioned(s, addressVersion)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return PublicKey{elem: e}, nil
}

// PublicKeyFromField wraps a field element already known to be a public key.
func PublicKeyFromField(e fr.Element) PublicKey {
	return PublicKey{elem: e}
}

// Address returns the base58 text form of the key.
func (pk PublicKey) Address() string {
	return encodeVersioned(addressVersion, pk.elem)
}

// Field returns the public key as a field element.
func (pk PublicKey) Field() fr.Element {
	return pk.elem
}

// String returns the decimal form of the public key, for witness assignment.
func (pk PublicKey) String() string {
	return pk.elem.String()
}

func encodeVersioned(version byte, e fr.Element) string {
	b := e.Bytes()
	buf := make([]byte, 0, encodedLen)
	buf = append(buf, version)
	buf = append(buf, b[:]...)
	return base58.Encode(buf)
}

func decodeVersioned(s string, version byte) (fr.Element, error) {
	var e fr.Element
	raw, err := base58.Decode(s)
	if err != nil {
		return e, err
	}
	if len(raw) != encodedLen {
		return e, fmt.Errorf("expected %d bytes, got %d", encodedLen, len(raw))
	}
	if raw[0] != version {
		return e, fmt.Errorf("unexpected version byte 0x%02x", raw[0])
	}
	if err := e.SetBytesCanonical(raw[1:]); err != nil {
		return e, err
	}
	return e, nil
}
