// Package config holds the deployment configuration of the parse server.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// PARSEWEB_* environment variables and command-line flags applied by the
// CLI on top of the loaded struct.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
	"github.com/FocuswithJustin/parseweb/core/runner"
	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/validation"
)

// DebugHost is the only address the server binds to in debug mode.
const DebugHost = "127.0.0.1"

// Config is the complete deployment configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Parser    ParserConfig    `yaml:"parser"`
	Templates TemplatesConfig `yaml:"templates"`
	Static    StaticConfig    `yaml:"static"`
	Limits    LimitsConfig    `yaml:"limits"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host      string    `yaml:"host"`
	Port      int       `yaml:"port"`
	ServerURL string    `yaml:"server_url"` // public base URL, derived from host and port when empty
	Debug     bool      `yaml:"debug"`
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CatalogConfig names the two catalog documents.
type CatalogConfig struct {
	List     string `yaml:"list"`     // JSON array of names
	Metadata string `yaml:"metadata"` // JSON object of name to metadata, optional
	Default  string `yaml:"default"`
}

// ParserConfig controls parser script execution.
type ParserConfig struct {
	Dir            string        `yaml:"dir"`
	Mode           string        `yaml:"mode"`
	Wrapper        string        `yaml:"wrapper"`
	TempDir        string        `yaml:"temp_dir"`
	KeepTempFiles  bool          `yaml:"keep_temp_files"`
	Timeout        time.Duration `yaml:"timeout"`
	OutputEncoding string        `yaml:"output_encoding"`
	NormalizeInput bool          `yaml:"normalize_input"`
	MaxConcurrent  int64         `yaml:"max_concurrent"`
}

// TemplatesConfig points at deployment HTML. Empty paths use the embedded
// default page.
type TemplatesConfig struct {
	Index  string `yaml:"index"`
	Result string `yaml:"result"`
}

// StaticConfig maps the /css/ and /js/ routes to directories.
type StaticConfig struct {
	CSSDir string `yaml:"css_dir"`
	JSDir  string `yaml:"js_dir"`
}

// LimitsConfig bounds request size and rate.
type LimitsConfig struct {
	MaxInputBytes     int64 `yaml:"max_input_bytes"`
	RequestsPerMinute int   `yaml:"requests_per_minute"` // 0 disables rate limiting
	Burst             int   `yaml:"burst"`
	TrustProxy        bool  `yaml:"trust_proxy"`
}

// CacheConfig controls the parser result cache.
type CacheConfig struct {
	Size     int           `yaml:"size"` // 0 disables caching
	MaxBytes int64         `yaml:"max_bytes"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := runner.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5042,
		},
		Catalog: CatalogConfig{
			List:     "available_corpora.json",
			Metadata: "corpora.json",
		},
		Parser: ParserConfig{
			Dir:            rc.Dir,
			Mode:           string(rc.Mode),
			Wrapper:        rc.Wrapper,
			TempDir:        rc.TempDir,
			Timeout:        rc.Timeout,
			OutputEncoding: rc.OutputEncoding,
			NormalizeInput: rc.NormalizeInput,
		},
		Static: StaticConfig{
			CSSDir: "css",
			JSDir:  "js",
		},
		Limits: LimitsConfig{
			MaxInputBytes: 1 << 20,
			Burst:         10,
		},
		Cache: CacheConfig{
			MaxBytes: 32 << 20,
			TTL:      10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.NewConfigLoad(path, perrors.NewIO("read", path, err))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, perrors.NewConfigLoad(path, &perrors.ParseError{
			Format: "YAML", Path: path, Message: err.Error(), Err: err,
		})
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Host == "" {
		errs = append(errs, perrors.NewValidation("server.host", "must not be empty"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, perrors.NewValidation("server.port", fmt.Sprintf("%d is out of range", c.Server.Port)))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, perrors.NewValidation("server.tls", "enabled but cert or key file not specified"))
	}

	for field, path := range map[string]string{
		"catalog.list": c.Catalog.List,
		"parser.dir":   c.Parser.Dir,
	} {
		if err := validation.ValidatePath(path); err != nil {
			errs = append(errs, &perrors.ValidationError{Field: field, Message: err.Error(), Err: err})
		}
	}

	switch runner.Mode(c.Parser.Mode) {
	case runner.ModeStdin, runner.ModeTempFile:
	default:
		errs = append(errs, perrors.NewValidation("parser.mode", fmt.Sprintf("unknown mode %q", c.Parser.Mode)))
	}
	if err := validation.ValidateFilename(c.Parser.Wrapper); err != nil {
		errs = append(errs, &perrors.ValidationError{Field: "parser.wrapper", Message: err.Error(), Err: err})
	}
	if c.Parser.Timeout <= 0 {
		errs = append(errs, perrors.NewValidation("parser.timeout", "must be positive"))
	}
	if c.Parser.MaxConcurrent < 0 {
		errs = append(errs, perrors.NewValidation("parser.max_concurrent", "must not be negative"))
	}

	if c.Limits.MaxInputBytes < 0 {
		errs = append(errs, perrors.NewValidation("limits.max_input_bytes", "must not be negative"))
	}
	if c.Limits.RequestsPerMinute < 0 || c.Limits.Burst < 0 {
		errs = append(errs, perrors.NewValidation("limits", "rate limits must not be negative"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, perrors.NewValidation("cache.size", "must not be negative"))
	}
	if c.Cache.MaxBytes < 0 {
		errs = append(errs, perrors.NewValidation("cache.max_bytes", "must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, perrors.NewValidation("log.level", err.Error()))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, perrors.NewValidation("log.format", err.Error()))
	}

	return errors.Join(errs...)
}

// EffectiveHost is the bind host. Debug mode always binds to loopback.
func (c *Config) EffectiveHost() string {
	if c.Server.Debug {
		return DebugHost
	}
	return c.Server.Host
}

// ListenAddr returns host:port for the listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.EffectiveHost(), strconv.Itoa(c.Server.Port))
}

// BaseURL is the value substituted for the server URL placeholder.
func (c *Config) BaseURL() string {
	if c.Server.ServerURL != "" {
		return strings.TrimRight(c.Server.ServerURL, "/")
	}

	host := c.EffectiveHost()
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "localhost"
	}
	scheme := "http"
	if c.Server.TLS.Enabled {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// LogLevel returns the configured level, forced to debug in debug mode.
func (c *Config) LogLevel() logging.Level {
	if c.Server.Debug {
		return logging.LevelDebug
	}
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

// LogFormat returns the configured log format.
func (c *Config) LogFormat() logging.Format {
	format, _ := logging.ParseFormat(c.Log.Format)
	return format
}

// RunnerConfig converts the parser section for core/runner.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		Dir:            c.Parser.Dir,
		Mode:           runner.Mode(c.Parser.Mode),
		Wrapper:        c.Parser.Wrapper,
		TempDir:        c.Parser.TempDir,
		KeepTempFiles:  c.Parser.KeepTempFiles,
		Timeout:        c.Parser.Timeout,
		OutputEncoding: c.Parser.OutputEncoding,
		NormalizeInput: c.Parser.NormalizeInput,
		MaxConcurrent:  c.Parser.MaxConcurrent,
		Env:            runner.DefaultEnv(),
	}
}
