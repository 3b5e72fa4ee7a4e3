// Package config loads pomt configuration.
//
// Values are layered, later sources winning:
//
//  1. built-in defaults
//  2. pomt.yaml (or the file given with --config)
//  3. .env in the working directory
//  4. POMT_* environment variables (plus HF_TOKEN)
//
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/jobs"
	"github.com/minios-linux/pomt/translate"
	"github.com/minios-linux/pomt/web"
)

// DefaultFile is read when no --config path is given and it exists.
const DefaultFile = "pomt.yaml"

// DefaultEnvFile is loaded into the environment when it exists.
const DefaultEnvFile = ".env"

// Config is the complete pomt configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Models  Models  `yaml:"models"`
	Backend Backend `yaml:"backend"`
	Jobs    Jobs    `yaml:"jobs"`
	Log     Log     `yaml:"log"`

	// UILanguage forces the web UI language; empty follows Accept-Language.
	UILanguage string `yaml:"ui_language,omitempty"`
	// DataDir holds uploads/, translated/ and progress/.
	DataDir string `yaml:"data_dir"`
}

// Server configures the HTTP listener.
type Server struct {
	Listen          string        `yaml:"listen"`
	MaxUpload       int64         `yaml:"max_upload"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Models configures model discovery and the model cache.
type Models struct {
	HubURL    string   `yaml:"hub_url"`
	Author    string   `yaml:"author"`
	Family    string   `yaml:"family"`
	Source    string   `yaml:"source"`
	Preferred string   `yaml:"preferred"`
	Pairs     []string `yaml:"pairs,omitempty"`
	// Discover queries the hub at startup; otherwise Pairs is used as is.
	Discover      bool          `yaml:"discover"`
	CacheSize     int           `yaml:"cache_size"`
	MaxInputRunes int           `yaml:"max_input_runes"`
	// Timeout bounds registry requests and each entry's translation.
	Timeout time.Duration `yaml:"timeout"`
}

// Backend selects the inference provider.
type Backend struct {
	// Type is one of huggingface, groq, ollama, custom-openai.
	Type         string `yaml:"type"`
	BaseURL      string `yaml:"base_url,omitempty"`
	APIKey       string `yaml:"api_key,omitempty"`
	Model        string `yaml:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	Proxy        string `yaml:"proxy,omitempty"`
	MaxRetries   int    `yaml:"max_retries"`
}

// Jobs configures the background worker pool.
type Jobs struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// Retention removes job files older than this; 0 keeps them forever.
	Retention       time.Duration `yaml:"retention"`
	JanitorInterval time.Duration `yaml:"janitor_interval,omitempty"`
	ErrorMarker     string        `yaml:"error_marker"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:          ":5000",
			MaxUpload:       web.DefaultMaxUpload,
			ShutdownTimeout: 30 * time.Second,
		},
		Models: Models{
			HubURL:        catalog.DefaultHubURL,
			Author:        "Helsinki-NLP",
			Family:        "opus-mt",
			Source:        "en",
			Preferred:     "en-hu",
			Pairs:         []string{"en-hu", "en-de", "en-fr", "en-es", "en-it", "en-ru"},
			Discover:      true,
			CacheSize:     4,
			MaxInputRunes: 512,
			Timeout:       2 * time.Minute,
		},
		Backend: Backend{
			Type:       translate.BackendHuggingFace,
			MaxRetries: 3,
		},
		Jobs: Jobs{
			Workers:     2,
			QueueSize:   32,
			ErrorMarker: jobs.DefaultErrorMarker,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		DataDir: ".",
	}
}

// Load builds the configuration from defaults, the YAML file at path, the
// env file and the process environment. An empty path reads DefaultFile
// when it exists; an explicit path must exist. A missing env file is
// ignored.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Listen, "POMT_LISTEN")
	setInt64(&c.Server.MaxUpload, "POMT_MAX_UPLOAD")
	setString(&c.DataDir, "POMT_DATA_DIR")
	setString(&c.UILanguage, "POMT_UI_LANGUAGE")

	setString(&c.Backend.Type, "POMT_BACKEND")
	setString(&c.Backend.BaseURL, "POMT_BACKEND_URL")
	setString(&c.Backend.APIKey, "HF_TOKEN")
	setString(&c.Backend.APIKey, "POMT_API_KEY")
	setString(&c.Backend.Model, "POMT_MODEL")

	setString(&c.Models.HubURL, "POMT_HUB_URL")
	setString(&c.Models.Preferred, "POMT_PREFERRED")
	setBool(&c.Models.Discover, "POMT_DISCOVER")
	setInt(&c.Models.CacheSize, "POMT_CACHE_SIZE")
	setInt(&c.Models.MaxInputRunes, "POMT_MAX_INPUT_RUNES")
	if v := os.Getenv("POMT_PAIRS"); v != "" {
		c.Models.Pairs = splitList(v)
	}

	setInt(&c.Jobs.Workers, "POMT_WORKERS")
	setInt(&c.Jobs.QueueSize, "POMT_QUEUE_SIZE")
	setDuration(&c.Jobs.Retention, "POMT_RETENTION")

	setString(&c.Log.Level, "POMT_LOG_LEVEL")
	setString(&c.Log.Format, "POMT_LOG_FORMAT")
}

// Validate resets out-of-range numeric values to their defaults, logging a
// warning for each, and rejects settings that cannot be repaired.
func (c *Config) Validate() error {
	def := Default()

	if c.Server.MaxUpload <= 0 {
		slog.Warn("invalid max_upload, using default", "value", c.Server.MaxUpload, "default", def.Server.MaxUpload)
		c.Server.MaxUpload = def.Server.MaxUpload
	}
	if c.Server.ShutdownTimeout <= 0 {
		slog.Warn("invalid shutdown_timeout, using default", "value", c.Server.ShutdownTimeout, "default", def.Server.ShutdownTimeout)
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Models.CacheSize < 1 {
		slog.Warn("invalid cache_size, using default", "value", c.Models.CacheSize, "default", def.Models.CacheSize)
		c.Models.CacheSize = def.Models.CacheSize
	}
	if c.Models.MaxInputRunes < 0 {
		slog.Warn("invalid max_input_runes, using default", "value", c.Models.MaxInputRunes, "default", def.Models.MaxInputRunes)
		c.Models.MaxInputRunes = def.Models.MaxInputRunes
	}
	if c.Models.Timeout <= 0 {
		c.Models.Timeout = def.Models.Timeout
	}
	if c.Backend.MaxRetries < 0 {
		slog.Warn("invalid max_retries, using default", "value", c.Backend.MaxRetries, "default", def.Backend.MaxRetries)
		c.Backend.MaxRetries = def.Backend.MaxRetries
	}
	if c.Jobs.Workers < 1 {
		slog.Warn("invalid workers, using default", "value", c.Jobs.Workers, "default", def.Jobs.Workers)
		c.Jobs.Workers = def.Jobs.Workers
	}
	if c.Jobs.QueueSize < 1 {
		slog.Warn("invalid queue_size, using default", "value", c.Jobs.QueueSize, "default", def.Jobs.QueueSize)
		c.Jobs.QueueSize = def.Jobs.QueueSize
	}
	if c.Jobs.Retention < 0 {
		slog.Warn("negative retention, keeping files forever", "value", c.Jobs.Retention)
		c.Jobs.Retention = 0
	}
	if c.Jobs.ErrorMarker == "" {
		c.Jobs.ErrorMarker = def.Jobs.ErrorMarker
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}

	if !translate.IsKnownBackend(c.Backend.Type) {
		return fmt.Errorf("unknown backend %q", c.Backend.Type)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	if !c.Models.Discover && len(c.Models.Pairs) == 0 {
		return errors.New("models.pairs must not be empty when discovery is disabled")
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return lvl, nil
}

// CatalogOptions returns the model discovery options.
func (c *Config) CatalogOptions() catalog.Options {
	return catalog.Options{
		Author:    c.Models.Author,
		Family:    c.Models.Family,
		Source:    c.Models.Source,
		Preferred: c.Models.Preferred,
		Pairs:     c.Models.Pairs,
	}
}

// TranslateBackend merges the configured backend over its built-in
// defaults. apiKey is used when no key was configured.
func (c *Config) TranslateBackend(apiKey string) translate.Backend {
	b := translate.DefaultBackends()[c.Backend.Type]
	b.ID = c.Backend.Type
	if c.Backend.BaseURL != "" {
		b.BaseURL = c.Backend.BaseURL
	}
	if c.Backend.Model != "" {
		b.Model = c.Backend.Model
	}
	if c.Backend.SystemPrompt != "" {
		b.SystemPrompt = c.Backend.SystemPrompt
	}
	b.APIKey = c.Backend.APIKey
	if b.APIKey == "" {
		b.APIKey = apiKey
	}
	b.Proxy = c.Backend.Proxy
	b.MaxRetries = c.Backend.MaxRetries
	return b
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer", "env", key, "value", v)
		return
	}
	*dst = n
}

func setInt64(dst *int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("ignoring invalid integer", "env", key, "value", v)
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean", "env", key, "value", v)
		return
	}
	*dst = b
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration", "env", key, "value", v)
		return
	}
	*dst = d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, p)
	}
	return out
}
