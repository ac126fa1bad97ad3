package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
)

// DefaultSettingsPath is the system-wide settings file.
const DefaultSettingsPath = "/etc/rpmbuilder.ini"

// Setting keys read on demand by the Provider methods.
const (
	KeyRootDir    = "general.rootdir"
	KeyToken      = "credentials.token"
	KeyPassphrase = "gpg.passphrase"
)

// Provider hands out the named values a build run needs. Each method fails
// with a config_unavailable error instead of returning an empty value.
type Provider interface {
	RootDir() (string, error)
	Token() (string, error)
	Passphrase() (string, error)
}

// Config holds the tool options read from the settings file
type Config struct {
	Builder BuilderConfig `mapstructure:"builder"`
	History HistoryConfig `mapstructure:"history"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// BuilderConfig controls container invocation and GitLab access.
type BuilderConfig struct {
	ContainerRuntime    string `mapstructure:"container_runtime"` // docker, podman or podman-api
	ContainerSocketPath string `mapstructure:"container_socket_path"`
	ContainerUser       string `mapstructure:"container_user"`
	HTTPTimeoutSeconds  int    `mapstructure:"http_timeout_seconds"`
}

// HistoryConfig locates the build history database. Empty disables it.
type HistoryConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MetricsConfig names a node_exporter textfile to write after each run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Settings is the loaded settings file. It implements Provider.
type Settings struct {
	v      *viper.Viper
	path   string
	config *Config
}

// Load reads the INI settings file at path, applying RPMBUILDER_* environment
// overrides. An empty path selects RPMBUILDER_SETTINGS or DefaultSettingsPath.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = os.Getenv("RPMBUILDER_SETTINGS")
	}
	if path == "" {
		path = DefaultSettingsPath
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RPMBUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, rerrors.ConfigUnavailable(err, "failed to read settings file %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, rerrors.ConfigUnavailable(err, "failed to decode settings file %s", path)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, rerrors.ConfigUnavailable(err, "failed to expand paths in %s", path)
	}

	return &Settings{v: v, path: path, config: &cfg}, nil
}

func setDefaults(v *viper.Viper) {
	// Builder defaults
	v.SetDefault("builder.container_runtime", "docker")
	v.SetDefault("builder.container_socket_path", "/run/podman/podman.sock")
	v.SetDefault("builder.container_user", "991:988")
	v.SetDefault("builder.http_timeout_seconds", 600)

	// History is off unless a database path is configured
	v.SetDefault("history.database_path", "")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)

	v.SetDefault("metrics.textfile", "")
}

// Path returns the settings file the values were read from.
func (s *Settings) Path() string { return s.path }

// Config returns the tool options.
func (s *Settings) Config() *Config { return s.config }

// RootDir returns general.rootdir, the base directory of all workspaces.
func (s *Settings) RootDir() (string, error) {
	dir, err := s.get(KeyRootDir)
	if err != nil {
		return "", err
	}
	abs, err := expandPath(dir)
	if err != nil {
		return "", rerrors.ConfigUnavailable(err, "invalid %s %q", KeyRootDir, dir)
	}
	return abs, nil
}

// Token returns credentials.token, the GitLab private token.
func (s *Settings) Token() (string, error) {
	return s.get(KeyToken)
}

// Passphrase returns gpg.passphrase, used by the package signer.
func (s *Settings) Passphrase() (string, error) {
	return s.get(KeyPassphrase)
}

func (s *Settings) get(key string) (string, error) {
	value := strings.TrimSpace(s.v.GetString(key))
	if value == "" {
		return "", rerrors.ConfigUnavailable(nil, "%s is not set in %s", key, s.path)
	}
	return value, nil
}

func (c *Config) expandPaths() error {
	var err error

	c.History.DatabasePath, err = expandPath(c.History.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to expand history.database_path: %w", err)
	}

	c.Metrics.Textfile, err = expandPath(c.Metrics.Textfile)
	if err != nil {
		return fmt.Errorf("failed to expand metrics.textfile: %w", err)
	}

	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	// Expand home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}

	return filepath.Abs(path)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Builder.ContainerRuntime {
	case "docker", "podman", "podman-api":
	default:
		return fmt.Errorf("builder.container_runtime must be 'docker', 'podman' or 'podman-api', got %q", c.Builder.ContainerRuntime)
	}

	if c.Builder.ContainerUser == "" {
		return fmt.Errorf("builder.container_user is required")
	}

	if c.Builder.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("builder.http_timeout_seconds must not be negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}
