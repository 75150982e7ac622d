// Package commands implements the nfscore command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfscore/cmd/nfscore/commands/config"
	"github.com/marmos91/nfscore/internal/cli/output"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nfscore",
	Short: "nfscore - NFSv4 server core services",
	Long: `nfscore hosts the server-side building blocks of an NFSv4.1 server:
the file attribute codec and store, the identity mapping cache with its
resolver daemon, and the session slot tables.

Use "nfscore [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nfscore/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resolverdCmd)
	rootCmd.AddCommand(attrsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// getFormat parses the --output flag.
func getFormat() (output.Format, error) {
	return output.ParseFormat(outputFormat)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "nfscore %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}
