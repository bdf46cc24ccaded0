package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"steward/pkg/logging"
)

const (
	userConfigDir  = ".config/steward"
	configFileName = "config.yaml"
)

// osUserHomeDir is a variable so tests can point the default directory elsewhere.
var osUserHomeDir = os.UserHomeDir

// GetUserConfigDir returns ~/.config/steward.
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath, or from the user config directory
// when configPath is empty. A missing file yields the defaults. The returned config
// has DataDir resolved to an absolute path and has passed Validate.
func LoadConfig(configPath string) (StewardConfig, error) {
	if configPath == "" {
		dir, err := GetUserConfigDir()
		if err != nil {
			return StewardConfig{}, err
		}
		configPath = dir
	}

	config := GetDefaultConfig()
	configFilePath := filepath.Join(configPath, configFileName)

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return StewardConfig{}, fmt.Errorf("failed to read %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return StewardConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if config.DataDir == "" {
		config.DataDir = configPath
	}
	config.DataDir, err = expandHome(config.DataDir)
	if err != nil {
		return StewardConfig{}, err
	}

	if errs := Validate(config); errs.HasErrors() {
		return StewardConfig{}, ConfigurationError{
			FilePath: configFilePath,
			FileName: configFileName,
			Message:  errs.Error(),
			Errors:   errs,
		}
	}

	return config, nil
}

// SaveConfig writes cfg as config.yaml into configPath with owner-only permissions.
func SaveConfig(configPath string, cfg StewardConfig) error {
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configPath, err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(configPath, configFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return filepath.Abs(path)
	}
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not expand %s: %w", path, err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}
