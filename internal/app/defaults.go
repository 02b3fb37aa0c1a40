package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds the environment overrides. Values come from the process
// environment, after an optional .env file in the working directory has
// been loaded into it.
type Env struct {
	ConfigPath    string `envconfig:"SHAREIT_CONFIG_PATH"`    // config file location
	Home          string `envconfig:"SHAREIT_HOME"`           // base directory for shareit data
	KeyPassphrase string `envconfig:"SHAREIT_KEY_PASSPHRASE"` // unlocks a passphrase-protected snapshot key
}

// LoadEnv loads .env if present and reads the SHAREIT_* variables.
// Variables already set in the environment win over .env entries.
func LoadEnv() (Env, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Env{}, fmt.Errorf("loading .env: %w", err)
	}
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("reading environment: %w", err)
	}
	return env, nil
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SHAREIT_CONFIG_PATH: config file location (default: ~/.config/shareit.toml)
//   - SHAREIT_HOME: base directory for shareit data (default: ~/.local/share/shareit)
func GetDefaults() (map[string]string, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}

	configPath, err := getConfigPath(env)
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir(env)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns SHAREIT_CONFIG_PATH when set, otherwise ~/.config/shareit.toml.
func getConfigPath(env Env) (string, error) {
	if env.ConfigPath != "" {
		return env.ConfigPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "shareit.toml"), nil
}

// getBaseDir returns SHAREIT_HOME when set, otherwise the XDG default
// ~/.local/share/shareit.
func getBaseDir(env Env) (string, error) {
	if env.Home != "" {
		return env.Home, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "shareit"), nil
}
