package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumKnownVectors(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{
			"fox",
			"The quick brown fox jumps over the lazy dog",
			"d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Sum([]byte(tc.input))
			assert.Equal(t, tc.expected, got)
			assert.Len(t, got, Size)
		})
	}
}

func TestValidPrefix(t *testing.T) {
	assert.True(t, ValidPrefix("ffff"))
	assert.True(t, ValidPrefix("ABCdef0123"))
	assert.True(t, ValidPrefix(strings.Repeat("a", Size)))

	assert.False(t, ValidPrefix(""))
	assert.False(t, ValidPrefix("xyz"))
	assert.False(t, ValidPrefix("ab cd"))
	assert.False(t, ValidPrefix(strings.Repeat("a", Size+1)))
}

func TestNormalizePrefixAndShort(t *testing.T) {
	assert.Equal(t, "abcd", NormalizePrefix(" ABcd\n"))
	assert.Equal(t, "abc", Short("abc"))
	assert.Equal(t, "ba7816bf8f01", Short(Sum([]byte("abc"))))
}
