package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfscore/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the nfscore configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  nfscore config validate

  # Validate specific config file
  nfscore config validate --config /etc/nfscore/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if !cfg.Admin.Enabled {
		warnings = append(warnings, "admin API disabled - sessions and identity cache cannot be inspected remotely")
	}
	if cfg.Resolver.Type == config.ResolverStatic && len(cfg.Resolver.Users) == 0 && len(cfg.Resolver.Groups) == 0 {
		warnings = append(warnings, "static resolver has no users or groups - only numeric and default identities will map")
	}
	if cfg.Idmap.Domain == "" {
		warnings = append(warnings, "idmap domain not set - owner strings are sent unqualified")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Metadata store:  %s\n", cfg.Metadata.Type)
	_, _ = fmt.Fprintf(out, "  Resolver:        %s\n", cfg.Resolver.Type)
	_, _ = fmt.Fprintf(out, "  Session slots:   %d\n", cfg.Sessions.MaxSlots)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
