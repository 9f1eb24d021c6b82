package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMina(t *testing.T) {
	cases := map[string]uint64{
		"0.1":         100_000_000,
		"1":           NanominaPerMina,
		"12.5":        12_500_000_000,
		".25":         250_000_000,
		"0.000000001": 1,
	}
	for in, want := range cases {
		got, err := ParseMina(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want, mustParse(t, FormatMina(got)), "FormatMina(%d)", got)
	}

	for _, bad := range []string{"", "abc", "-1", "1.0000000001", "99999999999999999999"} {
		_, err := ParseMina(bad)
		assert.Error(t, err, bad)
	}
}

func mustParse(t *testing.T, s string) uint64 {
	t.Helper()
	v, err := ParseMina(s)
	require.NoError(t, err)
	return v
}

func TestFormatMina(t *testing.T) {
	assert.Equal(t, "0.1", FormatMina(100_000_000))
	assert.Equal(t, "3", FormatMina(3*NanominaPerMina))
}
