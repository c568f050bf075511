//go:build property

package digest

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDigestProperties validates determinism and prefix handling of digests
func TestDigestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("digest is deterministic", prop.ForAll(
		func(payload []byte) bool {
			return Sum(payload) == Sum(append([]byte(nil), payload...))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("distinct payloads give distinct digests", prop.ForAll(
		func(a, b []byte) bool {
			if bytes.Equal(a, b) {
				return Sum(a) == Sum(b)
			}
			return Sum(a) != Sum(b)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("every prefix of a digest is a valid prefix", prop.ForAll(
		func(payload []byte, n int) bool {
			d := Sum(payload)
			return ValidPrefix(d[:n])
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, Size),
	))

	properties.TestingRun(t)
}
