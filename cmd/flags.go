package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/fwatch/internal/types"
)

// scriptFlag is a pflag.Value holding an optional script path. The path is
// made absolute when set because the daemon runs in its own directory.
type scriptFlag struct {
	path string
}

var _ pflag.Value = (*scriptFlag)(nil)

func (f *scriptFlag) String() string { return f.path }

func (f *scriptFlag) Set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("script path must not be empty")
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return fmt.Errorf("resolving script path: %w", err)
	}
	f.path = abs
	return nil
}

func (f *scriptFlag) Type() string { return "path" }

// PolicyFlags are the alias and action options of the track command.
type PolicyFlags struct {
	Alias  scriptFlag
	Action scriptFlag
}

// AddPolicyFlags adds --alias and --script to cmd.
func AddPolicyFlags(cmd *cobra.Command) *PolicyFlags {
	flags := &PolicyFlags{}
	cmd.Flags().Var(&flags.Alias, "alias", "script printing the alias for the file (default: its basename)")
	cmd.Flags().VarP(&flags.Action, "script", "s", "script run on every change instead of saving a snapshot")
	return flags
}

// Policies converts the flags into alias and action policies.
func (f *PolicyFlags) Policies() (types.AliasPolicy, types.ActionPolicy) {
	alias := types.AliasPolicy{Kind: types.AliasBasename}
	if f.Alias.path != "" {
		alias = types.AliasPolicy{Kind: types.AliasScript, Script: f.Alias.path}
	}
	action := types.ActionPolicy{Kind: types.ActionSave}
	if f.Action.path != "" {
		action = types.ActionPolicy{Kind: types.ActionScript, Script: f.Action.path}
	}
	return alias, action
}

// Reset clears the flags between invocations in the same process.
func (f *PolicyFlags) Reset() {
	f.Alias.path = ""
	f.Action.path = ""
}
