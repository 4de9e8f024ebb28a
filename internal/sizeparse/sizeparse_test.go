package sizeparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidCases(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"512", 512},
		{"2M", 2097152},
		{"1s", 512},
		{"1E", 1152921504606846976},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseRejectsNegativeAndEmpty(t *testing.T) {
	for _, in := range []string{"-1", ""} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestParseStrictModeRejectsTrailer(t *testing.T) {
	_, err := Parse("1 M")
	assert.Error(t, err)
}

func TestParsePrefixSubstringMode(t *testing.T) {
	n, rest, err := ParsePrefix("1 M")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, " M", rest)
}

func TestParsePrefixNoTrailerMeansRestEmpty(t *testing.T) {
	n, rest, err := ParsePrefix("2M")
	require.NoError(t, err)
	assert.Equal(t, uint64(2097152), n)
	assert.Equal(t, "", rest)
}

func TestParseEveryMultiplier(t *testing.T) {
	for suffix, mult := range map[byte]uint64{
		'b': 1, 'B': 1,
		'k': 1024, 'K': 1024,
		'm': 1024 * 1024, 'M': 1024 * 1024,
		'g': 1024 * 1024 * 1024, 'G': 1024 * 1024 * 1024,
	} {
		got, err := Parse("3" + string(suffix))
		require.NoError(t, err)
		assert.Equal(t, 3*mult, got)
	}
}

func TestParseOverflow(t *testing.T) {
	_, err := Parse("18446744073709551615E")
	assert.Error(t, err)
}
