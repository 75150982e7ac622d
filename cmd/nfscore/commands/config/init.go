package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfscore/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a configuration file holding every default value.

By default the file is created at $XDG_CONFIG_HOME/nfscore/config.yaml.
Use --config to choose another path.

Examples:
  # Initialize at the default location
  nfscore config init

  # Initialize at a custom path
  nfscore config init --config /etc/nfscore/config.yaml

  # Overwrite an existing file
  nfscore config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set admin.jwt.secret (or NFSCORE_ADMIN_SECRET) to enable the admin API")
	_, _ = fmt.Fprintln(out, "  2. Start the services with: nfscore start")
	_, _ = fmt.Fprintf(out, "  3. Or specify the file explicitly: nfscore start --config %s\n", configPath)
	return nil
}
