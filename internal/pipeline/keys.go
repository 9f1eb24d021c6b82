// keys.go - Groth16 key setup and on-disk caching.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"

	"zkapp/internal/contract"
)

// Replaced in tests.
var (
	groth16Setup = groth16.Setup
	groth16Prove = groth16.Prove
)

// KeyPaths returns where the proving and verifying keys of one method live under dir.
func KeyPaths(dir, contractName, method string) (pkPath, vkPath string) {
	base := filepath.Join(dir, contractName+"."+method)
	return base + ".pk", base + ".vk"
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(contract.Curve)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(contract.Curve)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys loads the key pair from disk when both files exist;
// otherwise it runs the Groth16 setup and saves the result. An empty
// pkPath skips the disk entirely.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, bool, error) {
	if pkPath != "" {
		pk, pkErr := LoadProvingKey(pkPath)
		vk, vkErr := LoadVerifyingKey(vkPath)
		if pkErr == nil && vkErr == nil {
			return pk, vk, true, nil
		}
	}

	pk, vk, err := groth16Setup(ccs)
	if err != nil {
		return nil, nil, false, fmt.Errorf("groth16 setup failed: %w", err)
	}
	if pkPath == "" {
		return pk, vk, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(pkPath), 0o755); err != nil {
		return nil, nil, false, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, false, fmt.Errorf("failed to save proving key: %w", err)
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, false, fmt.Errorf("failed to save verifying key: %w", err)
	}
	return pk, vk, false, nil
}
