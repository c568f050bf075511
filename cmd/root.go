// Package cmd provides the command-line interface for fwatch with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --socket, etc.) - highest priority
//	2. FWATCH_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (FWATCH_WATCH_DEBOUNCE, etc.)
//	4. Configuration files (.fwatch.yml) - lowest priority
//
// Environment Variables:
//
//	FWATCH_CONFIG_FILE: Path to custom configuration file
//	FWATCH_STATE_DIR: Override the state directory
//	FWATCH_SERVER_SOCKET: Override the control socket path
//	FWATCH_WATCH_DEBOUNCE: Override the debounce window
//	And the rest following the FWATCH_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fwatch",
	Short: "Track files and keep a content-addressed history of their changes",
	Long: `fwatch tracks files on disk, detects when their contents change, and
records a history of content-addressed snapshots that can later be listed or
retrieved by hash prefix.

A daemon owns the watching and storage; the other commands talk to it over a
local unix socket.

Quick Start:
  fwatch daemon &                 Start the daemon in the background
  fwatch track notes.md           Start tracking a file
  fwatch list                     Show tracked files and their history
  fwatch select notes.md 3fa9     Print the snapshot whose hash starts with 3fa9
  fwatch untrack notes.md         Stop tracking a file`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .fwatch.yml, can also use FWATCH_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("socket", "", "control socket path (default <state-dir>/fwatch.sock)")
	rootCmd.PersistentFlags().String("state-dir", ".fwatch", "directory holding the database, objects and logs")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("server.socket", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. FWATCH_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .fwatch.yml in current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("FWATCH_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".fwatch")
	}

	// Examples: FWATCH_STATE_DIR, FWATCH_SERVER_SOCKET, FWATCH_LOG_LEVEL
	viper.SetEnvPrefix("FWATCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("log.level") == "debug" {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
