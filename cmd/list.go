package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list [pattern]",
	Aliases: []string{"l", "ls"},
	Short:   "List tracked files and their snapshot history",
	Long: `List tracked files (including formerly tracked ones with history) ordered
by path. Each line shows the number of snapshots, the latest hash and capture
time, and the watch state.

A pattern matches a path literally, as a glob over the full path, or, when it
contains no slash, as a glob over the file name. Without a pattern every file
is listed.

Examples:
  fwatch list
  fwatch list '*.md'
  fwatch list '/home/me/notes/*'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
		// Relative literal paths are resolved like the other commands.
		if !strings.ContainsAny(pattern, "*?[") && strings.Contains(pattern, "/") {
			abs, err := absPath(pattern)
			if err != nil {
				return err
			}
			pattern = abs
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	reply, err := c.List(cmdContext(cmd), pattern)
	return printReply(cmd, reply, err)
}
