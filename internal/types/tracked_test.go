package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKindString(t *testing.T) {
	testCases := []struct {
		kind     EventKind
		expected string
		gone     bool
	}{
		{EventModified, "modified", false},
		{EventCreated, "created", false},
		{EventDeleted, "deleted", true},
		{EventRenamed, "renamed", true},
		{EventKind(99), "unknown", false},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.kind.String())
			assert.Equal(t, tc.gone, tc.kind.Gone())
		})
	}
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "basename", AliasPolicy{}.String())
	assert.Equal(t, "script:/bin/alias", AliasPolicy{Kind: AliasScript, Script: "/bin/alias"}.String())
	assert.Equal(t, "save", ActionPolicy{}.String())
	assert.Equal(t, "script:/bin/act", ActionPolicy{Kind: ActionScript, Script: "/bin/act"}.String())
	assert.Equal(t, "unknown", ActionKind(7).String())
	assert.Equal(t, "unknown", AliasKind(7).String())
}
