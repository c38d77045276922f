// Package config loads signboard settings from flags, environment and an optional file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys shared by flags, environment variables (SIGNBOARD_ prefix, dashes as
// underscores) and the config file.
const (
	KeyAddr            = "addr"
	KeyPluginDir       = "plugin-dir"
	KeyStylePath       = "style-path"
	KeyStaticDir       = "static-dir"
	KeyDBPath          = "db-path"
	KeyFetchTimeout    = "fetch-timeout"
	KeyMaxMessageBytes = "max-message-bytes"
	KeyConfigFile      = "config"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "SIGNBOARD"

// Config holds the runtime settings of the hub.
type Config struct {
	Addr            string
	PluginDir       string
	StylePath       string
	StaticDir       string
	DBPath          string
	FetchTimeout    time.Duration
	MaxMessageBytes int64
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:            ":3012",
		PluginDir:       "plugins",
		StylePath:       "data/style.css",
		DBPath:          "data/signboard.db",
		FetchTimeout:    10 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetDefault(KeyAddr, d.Addr)
	v.SetDefault(KeyPluginDir, d.PluginDir)
	v.SetDefault(KeyStylePath, d.StylePath)
	v.SetDefault(KeyStaticDir, d.StaticDir)
	v.SetDefault(KeyDBPath, d.DBPath)
	v.SetDefault(KeyFetchTimeout, d.FetchTimeout)
	v.SetDefault(KeyMaxMessageBytes, d.MaxMessageBytes)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the hub flags to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	d := Default()
	fs.String(KeyAddr, d.Addr, "address to listen on")
	fs.String(KeyPluginDir, d.PluginDir, "directory holding one subdirectory per plugin")
	fs.String(KeyStylePath, d.StylePath, "path of the custom stylesheet")
	fs.String(KeyStaticDir, d.StaticDir, "directory with the display and editor pages")
	fs.String(KeyDBPath, d.DBPath, "connection journal database (empty disables it)")
	fs.Duration(KeyFetchTimeout, d.FetchTimeout, "timeout for fetching remote plugins and styles")
	fs.Int64(KeyMaxMessageBytes, d.MaxMessageBytes, "largest accepted WebSocket message")
	fs.String(KeyConfigFile, "", "config file (default ./signboard.yaml if present)")

	for _, key := range []string{
		KeyAddr, KeyPluginDir, KeyStylePath, KeyStaticDir, KeyDBPath,
		KeyFetchTimeout, KeyMaxMessageBytes, KeyConfigFile,
	} {
		if err := v.BindPFlag(key, fs.Lookup(key)); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the optional config file and returns the merged settings.
func Load(v *viper.Viper) (Config, error) {
	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("signboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Addr:            v.GetString(KeyAddr),
		PluginDir:       v.GetString(KeyPluginDir),
		StylePath:       v.GetString(KeyStylePath),
		StaticDir:       v.GetString(KeyStaticDir),
		DBPath:          v.GetString(KeyDBPath),
		FetchTimeout:    v.GetDuration(KeyFetchTimeout),
		MaxMessageBytes: v.GetInt64(KeyMaxMessageBytes),
	}
	return cfg, cfg.Validate()
}

// Validate checks that required settings are present.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr must not be empty")
	case c.PluginDir == "":
		return errors.New("plugin-dir must not be empty")
	case c.StylePath == "":
		return errors.New("style-path must not be empty")
	case c.FetchTimeout <= 0:
		return errors.New("fetch-timeout must be positive")
	case c.MaxMessageBytes <= 0:
		return errors.New("max-message-bytes must be positive")
	}
	return nil
}
