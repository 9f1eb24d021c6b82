// crypto.go - MiMC hashing and field helpers shared by circuits and native code.
//
// The native MiMC here (gnark-crypto, BN254) and the in-circuit MiMC
// (gnark std/hash/mimc) agree as long as every input is written as one
// canonical 32-byte field element.

package contract

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Curve is the curve every contract circuit is compiled for.
const Curve = ecc.BN254

// ScalarField returns the scalar field circuits are compiled over.
func ScalarField() *big.Int {
	return Curve.ScalarField()
}

// mimcHash computes MiMC over a sequence of field elements.
func mimcHash(elems ...fr.Element) fr.Element {
	h := mimcNative.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// HashMessage maps message text to a single field element by hashing the
// character codes, one field element per rune.
func HashMessage(text string) fr.Element {
	runes := []rune(text)
	elems := make([]fr.Element, len(runes))
	for i, r := range runes {
		elems[i].SetUint64(uint64(r))
	}
	return mimcHash(elems...)
}

// MessageBinding ties a private key to a message hash: MiMC(sk, message).
func MessageBinding(sk *PrivateKey, message fr.Element) fr.Element {
	return mimcHash(sk.scalar, message)
}

// ParseField parses a decimal string into a canonical field element.
func ParseField(s string) (fr.Element, error) {
	var e fr.Element
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return e, fmt.Errorf("invalid field element %q", s)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("field element %q out of range", s)
	}
	e.SetBigInt(v)
	return e, nil
}

// randomScalar draws a uniformly random field element using crypto/rand.
func randomScalar() (fr.Element, error) {
	var e fr.Element
	v, err := rand.Int(rand.Reader, fr.Modulus())
	if err != nil {
		return e, fmt.Errorf("failed to sample scalar: %w", err)
	}
	e.SetBigInt(v)
	return e, nil
}
