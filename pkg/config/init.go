package config

import (
	"bytes"
	"fmt"
	"os"
)

const configHeader = `# nfscore configuration file
#
# Every value may be overridden from the environment with the NFSCORE_
# prefix, for example NFSCORE_LOGGING_LEVEL=DEBUG or NFSCORE_IDMAP_DOMAIN.
# Sizes accept units ("1Gi", "500MB") and durations accept Go syntax ("90s").
#
# Changes to the idmap section are applied without a restart.

`

// InitConfig writes the default configuration to the default path and
// returns that path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}
	if err := SaveConfig(GetDefaultConfig(), path); err != nil {
		return err
	}

	// Prepend the header; SaveConfig owns directory creation and modes.
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read back config file: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.Write(body)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
