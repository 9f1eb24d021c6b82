// proof.go - Verifier-side proof handling and verifying key encoding.

package contract

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// Verify checks a serialized Groth16 proof of m against the public inputs.
func Verify(m *Method, vk groth16.VerifyingKey, public []string, proof []byte) error {
	assignment, err := m.PublicAssignment(public)
	if err != nil {
		return fmt.Errorf("failed to rebuild public assignment: %w", err)
	}
	w, err := frontend.NewWitness(assignment, ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}
	p := groth16.NewProof(Curve)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	if err := groth16.Verify(p, vk, w); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}

// EncodeVerifyingKey serializes vk for storage on an account.
func EncodeVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVerifyingKey reverses EncodeVerifyingKey.
func DecodeVerifyingKey(b []byte) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(Curve)
	if _, err := vk.ReadFrom(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("failed to deserialize verifying key: %w", err)
	}
	return vk, nil
}
