package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{
		"# nfscore configuration file",
		"logging:",
		"sessions:",
		"idmap:",
		"resolver:",
		"metadata:",
		"resolverd:",
	} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}

	if _, err := Load(configPath); err != nil {
		t.Errorf("Generated config does not load: %v", err)
	}
}

func TestInitConfig_ExistingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if _, err := InitConfig(false); err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if _, err := InitConfig(true); err != nil {
		t.Errorf("Forced InitConfig failed: %v", err)
	}
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom", "nfscore.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if !strings.HasSuffix(GetDefaultConfigPath(), filepath.Join("nfscore", "config.yaml")) {
		t.Errorf("Unexpected default path %s", GetDefaultConfigPath())
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"idmap"`, `"sessions"`, `"max_slots"`, "2020-12"} {
		if !strings.Contains(s, want) {
			t.Errorf("Schema missing %s", want)
		}
	}
}
