package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/fwatch/internal/client"
	"github.com/conneroisu/fwatch/internal/digest"
)

var selectCmd = &cobra.Command{
	Use:   "select <file> <hash-prefix>",
	Short: "Print a snapshot of a file",
	Long: `Print the content of the snapshot of <file> whose hash starts with
<hash-prefix>. The prefix must identify exactly one content hash; use
'fwatch list' to see the latest hash of each file.

Examples:
  fwatch select notes.md 3fa9c2
  fwatch select notes.md 3fa9c2 > notes.md.old`,
	Args: cobra.ExactArgs(2),
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	path, err := absPath(args[0])
	if err != nil {
		return err
	}
	prefix := digest.NormalizePrefix(args[1])
	if !digest.ValidPrefix(prefix) {
		return fmt.Errorf("invalid hash prefix %q: expected 1-%d hex characters", args[1], digest.Size)
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	reply, err := c.Select(cmdContext(cmd), path, prefix)
	if err == nil && !client.IsErrorReply(reply) {
		// Snapshot content is printed verbatim.
		_, werr := fmt.Fprint(cmd.OutOrStdout(), reply)
		return werr
	}
	return printReply(cmd, reply, err)
}
