package cmd

import (
	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:     "track <file>",
	Aliases: []string{"t"},
	Short:   "Start tracking a file",
	Long: `Register a file with the daemon. Every change to it is then captured as a
snapshot, or handed to an action script when --script is given.

Tracking a file that is already tracked replaces its alias and action; its
history is kept. The file may not exist yet, but its directory must.

Scripts receive positional arguments:
  alias script:   <event> <path>            (stdout is the alias)
  action script:  <event> <path> <alias>

Examples:
  fwatch track notes.md
  fwatch track config.yml --alias ./label.sh
  fwatch track build.log --script ./notify.sh`,
	Args: cobra.ExactArgs(1),
	RunE: runTrack,
}

var trackFlags *PolicyFlags

func init() {
	rootCmd.AddCommand(trackCmd)
	trackFlags = AddPolicyFlags(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	alias, action := trackFlags.Policies()
	reply, err := c.Track(cmdContext(cmd), path, alias, action)
	return printReply(cmd, reply, err)
}
