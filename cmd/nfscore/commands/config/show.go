package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/nfscore/internal/cli/output"
	"github.com/marmos91/nfscore/pkg/config"
)

const redacted = "<redacted>"

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective nfscore configuration: the file merged with
environment overrides and defaults. Secrets are redacted.

By default outputs YAML. Use --output json for JSON.

Examples:
  # Show default config as YAML
  nfscore config show

  # Show as JSON
  nfscore config show --output json

  # Show specific config file
  nfscore config show --config /etc/nfscore/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	formatFlag, _ := cmd.Flags().GetString("output")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}

	shown := *cfg
	if shown.Admin.JWT.Secret != "" {
		shown.Admin.JWT.Secret = redacted
	}
	if shown.Resolverd.Database.Postgres.Password != "" {
		shown.Resolverd.Database.Postgres.Password = redacted
	}
	return output.Print(cmd.OutOrStdout(), format, &shown, nil)
}
