// Package config loads waycms settings from defaults, an optional YAML or
// JSON file and WAYCMS_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kfn "github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. WAYCMS_SMTP__HOST sets smtp.host.
const EnvPrefix = "WAYCMS_"

const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

type Config struct {
	Listen            string   `koanf:"listen" default:"127.0.0.1:5000" validate:"required,hostname_port"`
	Mode              string   `koanf:"mode" default:"single" validate:"oneof=single multi"`
	BaseDir           string   `koanf:"base_dir" default:"./website" validate:"required"`
	ProjectsDir       string   `koanf:"projects_dir" default:"./projects"`
	DataDir           string   `koanf:"data_dir" default:"./data" validate:"required"`
	Password          string   `koanf:"password"`
	AppURL            string   `koanf:"app_url" default:"http://localhost:5000" validate:"required,url"`
	AllowedExtensions []string `koanf:"allowed_extensions" default:"[\"html\",\"htm\",\"css\",\"js\",\"txt\",\"xml\",\"json\",\"md\"]" validate:"min=1,dive,required"`
	MaxUploadMB       int      `koanf:"max_upload_mb" default:"100" validate:"gt=0"`
	LogLevel          string   `koanf:"log_level" default:"info" validate:"oneof=debug info warn error"`
	MagicLinkHours    int      `koanf:"magic_link_hours" default:"24" validate:"gt=0"`
	SessionHours      int      `koanf:"session_hours" default:"168" validate:"gt=0"`
	SecureCookies     bool     `koanf:"secure_cookies"`
	LoginPerMinute    int      `koanf:"login_per_minute" default:"10" validate:"gt=0"`

	Admin  Admin  `koanf:"admin"`
	Backup Backup `koanf:"backup"`
	SMTP   SMTP   `koanf:"smtp"`
}

// Admin seeds an administrator account on startup in multi mode.
type Admin struct {
	Email    string `koanf:"email" validate:"omitempty,email"`
	Name     string `koanf:"name" default:"Administrator"`
	Password string `koanf:"password"`
}

type Backup struct {
	Dir        string        `koanf:"dir"`
	Interval   time.Duration `koanf:"interval" default:"24h" validate:"gte=0"`
	KeepDaily  int           `koanf:"keep_daily" default:"7" validate:"gte=0"`
	KeepWeekly int           `koanf:"keep_weekly" default:"4" validate:"gte=0"`
	KeepLast   int           `koanf:"keep_last" default:"10" validate:"gte=0"`
}

type SMTP struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" default:"587" validate:"gt=0,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from" validate:"omitempty,email"`
	FromName string `koanf:"from_name" default:"Way-CMS"`
	UseTLS   bool   `koanf:"use_tls" default:"true"`
}

// UnsupportedExtensionError reports a config file that is neither YAML nor JSON.
type UnsupportedExtensionError struct {
	Extension string
}

func (e *UnsupportedExtensionError) Error() string {
	return "unsupported config file extension: " + e.Extension
}

// Load builds the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	k := kfn.New(".")
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("error opening config file: %w", err)
		}
		if err := k.Load(kfile.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}
	if err := loadEnv(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	// Lists replace the default rather than merging into it.
	if k.Exists("allowed_extensions") {
		cfg.AllowedExtensions = nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parserFor(path string) (kfn.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, &UnsupportedExtensionError{Extension: ext}
	}
}

// loadEnv applies WAYCMS_ variables. Double underscores nest, and list
// values are comma separated: WAYCMS_ALLOWED_EXTENSIONS=html,css
func loadEnv(k *kfn.Koanf) error {
	return k.Load(kenv.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if key == "allowed_extensions" {
			return key, splitList(value)
		}
		return key, value
	}), nil)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks field constraints and the cross-field rules of multi mode.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mode == ModeMulti && c.ProjectsDir == "" {
		return errors.New("invalid config: projects_dir is required in multi mode")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return errors.New("invalid config: smtp.from is required when smtp.host is set")
	}
	return nil
}

func (c *Config) Multi() bool { return c.Mode == ModeMulti }

// DBPath is the SQLite database used in multi mode.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "waycms.db") }

// BackupDir is the backup directory, by default inside DataDir.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, "backups")
}

func (c *Config) MagicLinkTTL() time.Duration {
	return time.Duration(c.MagicLinkHours) * time.Hour
}

func (c *Config) SessionTTL() time.Duration { return time.Duration(c.SessionHours) * time.Hour }

func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
