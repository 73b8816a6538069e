// Package config loads gateway configuration from files, environment
// variables, and CLI flags, in ascending priority.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/urfave/cli/v3"
)

const envPrefix = "OPSBRIDGE_"

// Config represents the complete configuration for the opsbridge CLI.
type Config struct {
	// Gateway configuration
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	Seed int64  `koanf:"seed"`

	// Runbook configuration
	Endpoint string `koanf:"endpoint"`
	Incident string `koanf:"incident"`
}

func Default() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8686,
	}
}

// GatewayEndpoint returns the endpoint a runbook should dial:  the
// configured one, or the local gateway's /mcp URL.
func (c *Config) GatewayEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("http://%s:%d/mcp", c.Host, c.Port)
}

// Load builds configuration from three sources in priority order:
//  1. Config files (lowest priority)
//  2. Environment variables with OPSBRIDGE_ prefix
//  3. CLI flags (highest priority)
func Load(ctx context.Context, cmd *cli.Command) (*Config, error) {
	l := logger.StdlibLogger(ctx)
	k := koanf.New(".")

	// Step 1: config file.
	configPath := cmd.String("config")
	if configPath == "" {
		configPath = os.Getenv(envPrefix + "CONFIG")
	}
	if configPath != "" {
		if err := loadConfigFromPath(k, configPath); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		l.Debug("using config", "file", configPath)
	} else if found := searchConfigFile(l); found != "" {
		if err := loadConfigFromPath(k, found); err != nil {
			l.Warn("error reading config file", "file", found, "error", err)
		} else {
			l.Debug("using config", "file", found)
		}
	}

	// Step 2: environment variables.
	if err := k.Load(env.ProviderWithValue(envPrefix, "", func(key, value string) (string, interface{}) {
		// OPSBRIDGE_LOG_LEVEL -> log-level
		configKey := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "_", "-"))
		return configKey, value
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Step 3: CLI flags win over everything.
	applyFlags(cmd, cfg)

	return cfg, nil
}

func applyFlags(cmd *cli.Command, cfg *Config) {
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("seed") {
		cfg.Seed = cmd.Int64("seed")
	}
	if cmd.IsSet("endpoint") {
		cfg.Endpoint = cmd.String("endpoint")
	}
}

var configNames = []string{"opsbridge.json", "opsbridge.yaml", "opsbridge.yml"}

// searchConfigFile walks from the working directory up, then checks the
// user config dir, returning the first config file found.
func searchConfigFile(l logger.Logger) string {
	var paths []string

	if cwd, err := os.Getwd(); err != nil {
		l.Warn("error getting current directory", "error", err)
	} else {
		dir := cwd
		for {
			paths = append(paths, dir)
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "opsbridge"))
	}

	for _, searchPath := range paths {
		for _, name := range configNames {
			fullPath := filepath.Join(searchPath, name)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath
			}
		}
	}
	return ""
}

func loadConfigFromPath(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch filepath.Ext(path) {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		parser = yaml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}
