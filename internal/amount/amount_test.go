package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSOL(t *testing.T) {
	tests := []struct {
		lamports uint64
		want     string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{5000, "0.000005"},
		{1_500_000_000, "1.5"},
		{2_000_000_000, "2"},
		{123_456_789_012, "123.456789012"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSOL(tt.lamports), "lamports=%d", tt.lamports)
	}
}

func TestParseSOL(t *testing.T) {
	l, err := ParseSOL("0.01")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), l)

	l, err = ParseSOL("3")
	require.NoError(t, err)
	assert.Equal(t, uint64(3*LamportsPerSOL), l)

	_, err = ParseSOL("-1")
	require.Error(t, err)

	_, err = ParseSOL("0.0000000001")
	require.Error(t, err)

	_, err = ParseSOL("abc")
	require.Error(t, err)
}

func TestToSOL_RoundTrip(t *testing.T) {
	l, err := ParseSOL(ToSOL(987_654_321).String())
	require.NoError(t, err)
	assert.Equal(t, uint64(987_654_321), l)
}
