package internal

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Files  FilesConfig       `yaml:"files"`
	Schema SchemaConfig      `yaml:"schema"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Files.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// FilesConfig holds the asset mirror configuration.
type FilesConfig struct {
	// Dir is the local directory holding mirrored files.
	Dir string `yaml:"dir"`
	// BaseURL is the public URL under which Dir is served.
	BaseURL      string        `yaml:"base_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxSize      int64         `yaml:"max_size"`
	UserAgent    string        `yaml:"user_agent"`
	// FullFetch lists "resource.field" pairs compared by content instead of
	// by Content-Length.
	FullFetch []string `yaml:"full_fetch"`
	// AllowPrivate permits fetching from loopback and private networks.
	AllowPrivate bool `yaml:"allow_private"`
}

// Validate validates the files configuration.
func (c *FilesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxSize, validation.Min(int64(0))),
		validation.Field(&c.FullFetch, validation.Each(validation.By(resourceField))),
	)
}

func httpURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}

func resourceField(v any) error {
	s, _ := v.(string)
	res, field, ok := strings.Cut(s, ".")
	if !ok || res == "" || field == "" {
		return fmt.Errorf("must be resource.field, got %q", s)
	}
	return nil
}

// SchemaConfig points at an optional resource metadata file.
type SchemaConfig struct {
	// Path of a YAML registry; the built-in parliament schema is used when empty.
	Path string `yaml:"path"`
	// Watch reloads the registry when the file changes.
	Watch bool `yaml:"watch"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced on writes:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./parldata.db",
		},
		Files: FilesConfig{
			Dir:          "./files",
			BaseURL:      "http://localhost:8080/files",
			FetchTimeout: 30 * time.Second,
			MaxSize:      50 << 20,
			UserAgent:    "parldata-mirror/1.0",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
