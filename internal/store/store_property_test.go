//go:build property

package store

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/fwatch/internal/types"
)

// TestStoreProperties validates append/select round trips and list ordering
func TestStoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(97531)
	parameters.MinSuccessfulTests = 50

	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "fwatch.db"), filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	properties := gopter.NewProperties(parameters)

	properties.Property("appended payload is selectable by its full digest", prop.ForAll(
		func(name string, payload []byte) bool {
			p := "/prop/" + name
			if _, err := s.Track(types.TrackedFile{Path: p}); err != nil {
				return false
			}
			snap, err := s.Append(p, payload)
			if err != nil {
				return false
			}
			got, err := s.Select(p, snap.Hash)
			return err == nil && bytes.Equal(got.Payload, payload)
		},
		gen.Identifier(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("list is sorted and restartable", prop.ForAll(
		func(names []string) bool {
			for _, n := range names {
				if _, err := s.Track(types.TrackedFile{Path: "/prop/" + n}); err != nil {
					return false
				}
			}
			seq, err := s.List("*")
			if err != nil {
				return false
			}
			var first, second []string
			for sum := range seq {
				first = append(first, sum.Path)
			}
			for sum := range seq {
				second = append(second, sum.Path)
			}
			for i := 1; i < len(first); i++ {
				if first[i-1] >= first[i] {
					return false
				}
			}
			return len(first) == len(second)
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
