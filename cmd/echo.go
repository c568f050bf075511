package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var echoCmd = &cobra.Command{
	Use:   "echo <message>...",
	Short: "Check that the daemon answers",
	Long: `Send a message to the daemon and print the reply, which is the same
message. Useful to check that the daemon is running and reachable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEcho,
}

var echoerrCmd = &cobra.Command{
	Use:   "echoerr <message>...",
	Short: "Check the daemon's error reply path",
	Long: `Send a message that the daemon returns as an error reply. The command
prints the message as an error and exits non-zero.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEchoerr,
}

func init() {
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(echoerrCmd)
}

func runEcho(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	reply, err := c.Echo(cmdContext(cmd), strings.Join(args, " "))
	return printReply(cmd, reply, err)
}

func runEchoerr(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	reply, err := c.Echoerr(cmdContext(cmd), strings.Join(args, " "))
	return printReply(cmd, reply, err)
}
