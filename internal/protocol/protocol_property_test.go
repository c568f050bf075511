//go:build property

package protocol

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProtocolProperties validates that framing and payload codecs round trip
func TestProtocolProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("frames round trip", prop.ForAll(
		func(cmd uint64, payload []byte) bool {
			var buf bytes.Buffer
			in := NewPacket(Command(cmd), payload)
			if err := WriteFrame(&buf, in); err != nil {
				return false
			}
			out, err := ReadFrame(bufio.NewReader(&buf), 1<<20)
			if err != nil {
				return false
			}
			return out.Command == in.Command && bytes.Equal(out.Payload, in.Payload)
		},
		gen.UInt64Range(0, 1<<20),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("pairs round trip", prop.ForAll(
		func(a, b string) bool {
			out, err := DecodePair(EncodePair(Pair{First: a, Second: b}))
			return err == nil && out.First == a && out.Second == b
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("decoding arbitrary bytes never panics", prop.ForAll(
		func(data []byte) bool {
			_, _ = UnmarshalPacket(data)
			_, _ = DecodeTrack(data)
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
