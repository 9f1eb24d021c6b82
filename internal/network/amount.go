// amount.go - MINA amounts in nanomina.

package network

import (
	"fmt"
	"strconv"
	"strings"
)

// NanominaPerMina is the number of base units in one MINA.
const NanominaPerMina = 1_000_000_000

// ParseMina parses a decimal MINA amount such as "0.1" into nanomina.
func ParseMina(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 9 {
		return 0, fmt.Errorf("amount %q has more than 9 decimals", s)
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	if w > (^uint64(0)-f)/NanominaPerMina {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return w*NanominaPerMina + f, nil
}

// FormatMina renders nanomina as a decimal MINA amount.
func FormatMina(n uint64) string {
	whole, frac := n/NanominaPerMina, n%NanominaPerMina
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%09d", whole, frac), "0")
}
