package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envFileName is the dot-env file read from both the install directory
// (primary) and the per-user data directory (fallback).
const envFileName = ".env"

// Hydrate loads the layered environment into the process, in precedence
// order (highest first):
//
//  1. explicit override file (overridePath, when non-empty)
//  2. process environment
//  3. optional YAML config file (ARCANOS_CONFIG_FILE)
//  4. primary dot-env next to the binary / in the working directory
//  5. fallback dot-env in the per-user data directory
//
// godotenv.Load never overrides variables that are already set, which is why
// the lower layers are loaded after the higher ones; the override file is the
// single exception and uses Overload.
func Hydrate(overridePath string) error {
	if overridePath != "" {
		if err := godotenv.Overload(overridePath); err != nil {
			return fmt.Errorf("load override env file %q: %w", overridePath, err)
		}
	}

	if cfgFile := os.Getenv("ARCANOS_CONFIG_FILE"); cfgFile != "" {
		if err := applyYAMLLayer(cfgFile); err != nil {
			return fmt.Errorf("load config file %q: %w", cfgFile, err)
		}
	}

	if err := godotenv.Load(envFileName); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: could not read primary dot-env", "file", envFileName, "err", err)
	}

	fallback := filepath.Join(defaultDataDir(), envFileName)
	if err := godotenv.Load(fallback); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: could not read fallback dot-env", "file", fallback, "err", err)
	}

	return nil
}

// applyYAMLLayer reads a flat YAML mapping of config keys to scalar values
// and applies each entry that is not already set in the environment.
func applyYAMLLayer(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	for k, v := range entries {
		if _, present := os.LookupEnv(k); !present {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// SeedFallbackEnv copies the packaged dot-env template into the per-user
// data directory on first use. An existing file is never overwritten.
func SeedFallbackEnv(dataDir, templatePath string) error {
	dest := filepath.Join(dataDir, envFileName)
	if _, err := os.Stat(dest); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	tmpl, err := os.ReadFile(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read env template: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, tmpl, 0o600); err != nil {
		return fmt.Errorf("seed fallback dot-env: %w", err)
	}
	slog.Info("config: seeded fallback dot-env", "path", dest)
	return nil
}

// Load hydrates the environment and builds the validated Config. The error
// carries every validation failure joined into one message.
func Load(overridePath string) (*Config, error) {
	if err := Hydrate(overridePath); err != nil {
		return nil, err
	}
	cfg := FromEnv()
	if errs := cfg.Validate(); len(errs) > 0 {
		msg := "invalid configuration:"
		for _, e := range errs {
			msg += "\n  - " + e.Error()
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return cfg, nil
}
