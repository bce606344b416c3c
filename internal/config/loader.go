package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"zesty-backup/internal/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// ZESTY_BACKUP_STORAGE_SECRET_KEY for storage.secret_key
const EnvPrefix = "ZESTY_BACKUP"

// secretKeys are bound to the environment explicitly so they can be
// supplied without appearing in the config file
var secretKeys = []string{
	"storage.access_key",
	"storage.secret_key",
	"storage.account_key",
	"storage.application_key",
	"database.password",
}

// DefaultConfigPaths returns the locations searched when no --config is given
func DefaultConfigPaths() []string {
	paths := []string{"zesty-backup.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".zesty-backup.yaml"))
	}
	return paths
}

// Loader handles loading configuration from a file, the environment and
// bound CLI flags
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper wraps an existing viper instance, such as the one the
// CLI binds its flags to
func NewLoaderWithViper(v *viper.Viper) *Loader {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		v.BindEnv(key)
	}
	return &Loader{viper: v}
}

// Viper returns the underlying viper instance
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// ConfigFileUsed returns the path of the config file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

// Read reads configFile, or the first default location that exists, and
// applies defaults. It does not validate, so partial configurations such
// as a storage-only file can be read.
func (l *Loader) Read(configFile string) (*Config, error) {
	if configFile == "" {
		for _, p := range DefaultConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				configFile = p
				break
			}
		}
	}

	if configFile != "" {
		l.viper.SetConfigFile(configFile)
		l.viper.SetConfigType("yaml")
		if err := l.viper.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("error reading config file %s", configFile), err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("error unmarshaling config", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// Load reads the configuration, resolves secrets and validates it
func (l *Loader) Load(configFile string) (*Config, error) {
	cfg, err := l.Read(configFile)
	if err != nil {
		return nil, err
	}
	if err := Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize applies defaults, resolves secrets and validates cfg
func Finalize(cfg *Config) error {
	cfg.SetDefaults()
	if err := cfg.ResolveSecrets(); err != nil {
		return err
	}
	return cfg.Validate()
}

// LoadFile decodes a YAML file without consulting the environment. Unknown
// keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	if err := Finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveFile writes cfg as YAML, creating the parent directory. The file is
// private because it may hold credentials.
func SaveFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.NewConfigError("failed to marshal config to YAML", err)
	}
	return writeConfig(path, data)
}

func writeConfig(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewConfigError("failed to create config directory", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.NewConfigError(fmt.Sprintf("failed to write config file %s", path), err)
	}
	return nil
}
