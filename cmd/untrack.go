package cmd

import (
	"github.com/spf13/cobra"
)

var untrackCmd = &cobra.Command{
	Use:     "untrack <file>",
	Aliases: []string{"u"},
	Short:   "Stop tracking a file",
	Long: `Stop watching a file. The command returns once the daemon has released
the watch, so later changes to the file are not captured. Existing snapshots
stay listable and selectable.`,
	Args: cobra.ExactArgs(1),
	RunE: runUntrack,
}

func init() {
	rootCmd.AddCommand(untrackCmd)
}

func runUntrack(cmd *cobra.Command, args []string) error {
	path, err := absPath(args[0])
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	reply, err := c.Untrack(cmdContext(cmd), path)
	return printReply(cmd, reply, err)
}
