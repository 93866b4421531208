// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"codebroker/pkg/types"
)

// Settings is the frozen configuration for one broker process, built once at
// startup and never mutated afterwards.
type Settings struct {
	// Debug enables verbose diagnostic logging.
	Debug bool `mapstructure:"debug"`
	// Port is the port an HTTP collaborator would listen on (informational
	// here; this module has no HTTP server of its own). Zero means
	// auto-select.
	Port types.ListenPort `mapstructure:"port"`
	// MaxWorkers bounds both the admission semaphore and the warm pool size.
	MaxWorkers int `mapstructure:"max_workers"`
	// ExecutionTimeoutSeconds is the guest wall-clock budget, before grace.
	ExecutionTimeoutSeconds int `mapstructure:"execution_timeout"`

	// DockerImage is the guest sandbox image reference.
	DockerImage string `mapstructure:"docker_image"`
	// DockerNetworkMode is the network mode applied to every guest container.
	DockerNetworkMode string `mapstructure:"docker_network_mode"`
	// DockerPidsLimit caps the number of processes a guest container may create.
	DockerPidsLimit int `mapstructure:"docker_pids_limit"`

	// ImageStorePath is the host directory backing published chart images.
	ImageStorePath string `mapstructure:"image_store_path"`
	// ImageURLPrefix is the URL path prefix an HTTP collaborator serves images under.
	ImageURLPrefix string `mapstructure:"image_url_prefix"`
	// FileStorePath is the host directory backing published output files.
	FileStorePath string `mapstructure:"file_store_path"`
	// FileURLPrefix is the URL path prefix an HTTP collaborator serves files under.
	FileURLPrefix string `mapstructure:"file_url_prefix"`

	// InputMaxFiles caps the number of input URLs accepted per request.
	InputMaxFiles int `mapstructure:"input_max_files"`
	// InputFileMaxBytes caps the size of a single downloaded input file.
	InputFileMaxBytes int64 `mapstructure:"input_file_max_bytes"`
	// InputTotalMaxBytes caps the combined size of all downloaded input files.
	InputTotalMaxBytes int64 `mapstructure:"input_total_max_bytes"`

	// OutputMaxFiles caps the number of output files harvested per request.
	OutputMaxFiles int `mapstructure:"output_max_files"`
	// OutputFileMaxBytes caps the size of a single harvested output file.
	OutputFileMaxBytes int64 `mapstructure:"output_file_max_bytes"`
	// OutputTotalMaxBytes caps the combined size of all harvested output files.
	OutputTotalMaxBytes int64 `mapstructure:"output_total_max_bytes"`
	// OutputAllowedExtensions is the allow-list of output file extensions
	// (lowercase, no leading dot).
	OutputAllowedExtensions map[string]struct{} `mapstructure:"-"`
}

const (
	// AppName names the XDG config subdirectory and env var prefix.
	AppName = "codebroker"
	// ConfigFileName is the optional override file's base name (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the optional override file's extension.
	ConfigFileExt = "toml"
	// poolWarmSize is the ceiling on warm pool members, independent of how
	// high MaxWorkers is raised; the pool exists to absorb the common case
	// cheaply, not to pre-warm every admitted worker slot.
	poolWarmSize = 2
)

// Default returns the baked-in defaults, matching the original broker's
// environment-driven dataclass defaults.
func Default() *Settings {
	return &Settings{
		Debug:                   false,
		Port:                    14564,
		MaxWorkers:              4,
		ExecutionTimeoutSeconds: 30,
		DockerImage:             "ghcr.io/codebroker/python-executor:latest",
		DockerNetworkMode:       "bridge",
		DockerPidsLimit:         256,
		ImageStorePath:          "./images",
		ImageURLPrefix:          "/images",
		FileStorePath:           "./files",
		FileURLPrefix:           "/files",
		InputMaxFiles:           10,
		InputFileMaxBytes:       20 * 1024 * 1024,
		InputTotalMaxBytes:      50 * 1024 * 1024,
		OutputMaxFiles:          20,
		OutputFileMaxBytes:      5 * 1024 * 1024,
		OutputTotalMaxBytes:     20 * 1024 * 1024,
		OutputAllowedExtensions: toExtensionSet("md,csv,txt,json,log"),
	}
}

// Load builds Settings from an optional local TOML override file (searched in
// the XDG config directory and the current directory) layered under
// environment variables, which always take precedence.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)

	if dir, err := ConfigDir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	defaults := Default()
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("max_workers", defaults.MaxWorkers)
	v.SetDefault("execution_timeout", defaults.ExecutionTimeoutSeconds)
	v.SetDefault("docker_image", defaults.DockerImage)
	v.SetDefault("docker_network_mode", defaults.DockerNetworkMode)
	v.SetDefault("docker_pids_limit", defaults.DockerPidsLimit)
	v.SetDefault("image_store_path", defaults.ImageStorePath)
	v.SetDefault("image_url_prefix", defaults.ImageURLPrefix)
	v.SetDefault("file_store_path", defaults.FileStorePath)
	v.SetDefault("file_url_prefix", defaults.FileURLPrefix)
	v.SetDefault("input_max_files", defaults.InputMaxFiles)
	v.SetDefault("input_file_max_bytes", defaults.InputFileMaxBytes)
	v.SetDefault("input_total_max_bytes", defaults.InputTotalMaxBytes)
	v.SetDefault("output_max_files", defaults.OutputMaxFiles)
	v.SetDefault("output_file_max_bytes", defaults.OutputFileMaxBytes)
	v.SetDefault("output_total_max_bytes", defaults.OutputTotalMaxBytes)
	v.SetDefault("output_allowed_extensions", "md,csv,txt,json,log")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Viper's AutomaticEnv only binds keys it already knows about via
	// SetDefault/BindEnv, which the calls above guarantee for every field.

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.OutputAllowedExtensions = toExtensionSet(v.GetString("output_allowed_extensions"))

	if err := s.Port.Validate(); err != nil {
		return nil, fmt.Errorf("configured port: %w", err)
	}

	return &s, nil
}

// toExtensionSet normalizes a comma-separated extension list into a lookup set.
func toExtensionSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, item := range strings.Split(csv, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

// AllowsExtension reports whether ext (with or without a leading dot) is in
// the output allow-list.
func (s *Settings) AllowsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	_, ok := s.OutputAllowedExtensions[ext]
	return ok
}

// PoolSize is the number of warm pool members to maintain: at least one,
// and never more than MaxWorkers or poolWarmSize.
func (s *Settings) PoolSize() int {
	if s.MaxWorkers <= 0 {
		return 1
	}
	if s.MaxWorkers < poolWarmSize {
		return s.MaxWorkers
	}
	return poolWarmSize
}

// ConfigDir returns the XDG-style configuration directory for this app,
// honoring SetConfigDirOverride for tests.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return filepath.Join(configDirOverride, AppName), nil
	}

	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		dir = os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(dir, AppName), nil
}

// WriteDefaultFile writes a default TOML override file to the config
// directory if one doesn't already exist.
func WriteDefaultFile() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	header := []byte("# codebroker configuration overrides.\n# Environment variables always take precedence over this file.\n\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
