// Package config loads the operator daemon configuration from YAML, fills
// defaults and applies environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Listen string `yaml:"listen"`
	// MCP selects how the tool server is exposed: stdio | http | off.
	MCP string `yaml:"mcp"`
	DB  string `yaml:"db"`
	// Transport selects where browsers run: local | remote.
	Transport      string `yaml:"transport"`
	DefaultSession string `yaml:"default_session"`
	AttachUnknown  bool   `yaml:"attach_unknown"`

	Browser   BrowserConfig   `yaml:"browser"`
	Remote    RemoteConfig    `yaml:"remote"`
	Vision    VisionConfig    `yaml:"vision"`
	Actions   ActionsConfig   `yaml:"actions"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	PageText  PageTextConfig  `yaml:"page_text"`
}

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// BrowserConfig controls locally launched Chrome.
type BrowserConfig struct {
	Bin              string        `yaml:"bin"`
	Headful          bool          `yaml:"headful"`
	NoStealth        bool          `yaml:"no_stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Viewport         Viewport      `yaml:"viewport"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`
	// BlockPrivate refuses navigation to loopback and private addresses.
	BlockPrivate bool `yaml:"block_private"`
}

// RemoteConfig addresses a hosted browser provider.
type RemoteConfig struct {
	APIKey     string `yaml:"api_key"`
	ProjectID  string `yaml:"project_id"`
	APIURL     string `yaml:"api_url"`
	ConnectURL string `yaml:"connect_url"`
}

// VisionConfig configures the vision model.
type VisionConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ActionsConfig tunes input timing and the click indicator.
type ActionsConfig struct {
	SettleDelay       time.Duration `yaml:"settle_delay"`
	KeyDelay          time.Duration `yaml:"key_delay"`
	SubmitDelay       time.Duration `yaml:"submit_delay"`
	ScreenshotQuality int           `yaml:"screenshot_quality"`
	SearchURL         string        `yaml:"search_url"`
	// ShowCursor paints the click indicator before coordinate clicks.
	ShowCursor  bool   `yaml:"show_cursor"`
	CursorStyle string `yaml:"cursor_style"` // arrow | dot
}

// RateLimitConfig caps session creation and HTTP tool calls per client.
type RateLimitConfig struct {
	Backend       string        `yaml:"backend"` // off | memory | redis
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// PageTextConfig controls read_page output.
type PageTextConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file, applies environment overrides, then defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets and the database path come from the environment.
// A set variable wins over the file.
func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"GEMINI_API_KEY":         &c.Vision.APIKey,
		"BROWSERBASE_API_KEY":    &c.Remote.APIKey,
		"BROWSERBASE_PROJECT_ID": &c.Remote.ProjectID,
		"OPERATOR_DB":            &c.DB,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8420"
	}
	if c.MCP == "" {
		c.MCP = "http"
	}
	if c.DB == "" {
		c.DB = "data/operator.db"
	}
	if c.Transport == "" {
		c.Transport = "local"
		if c.Remote.APIKey != "" {
			c.Transport = "remote"
		}
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		c.Browser.Viewport = Viewport{Width: 1280, Height: 720}
	}
	if c.Browser.LoadTimeout <= 0 {
		c.Browser.LoadTimeout = 30 * time.Second
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "gemini-2.0-flash"
	}
	if c.Actions.SettleDelay <= 0 {
		c.Actions.SettleDelay = 500 * time.Millisecond
	}
	if c.Actions.KeyDelay <= 0 {
		c.Actions.KeyDelay = 12 * time.Millisecond
	}
	if c.Actions.SubmitDelay <= 0 {
		c.Actions.SubmitDelay = 50 * time.Millisecond
	}
	if c.Actions.ScreenshotQuality <= 0 {
		c.Actions.ScreenshotQuality = 80
	}
	if c.Actions.CursorStyle == "" {
		c.Actions.CursorStyle = "arrow"
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "off"
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 10
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 24 * time.Hour
	}
	if c.RateLimit.RedisAddr == "" {
		c.RateLimit.RedisAddr = "localhost:6379"
	}
	if c.PageText.MaxChars == 0 {
		c.PageText.MaxChars = 20000
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.MCP {
	case "stdio", "http", "off":
	default:
		return fmt.Errorf("config: mcp: unknown mode %q", c.MCP)
	}
	switch c.Transport {
	case "local":
	case "remote":
		if c.Remote.APIKey == "" {
			return fmt.Errorf("config: remote transport needs remote.api_key or BROWSERBASE_API_KEY")
		}
	default:
		return fmt.Errorf("config: transport: unknown %q", c.Transport)
	}
	switch c.Actions.CursorStyle {
	case "arrow", "dot":
	default:
		return fmt.Errorf("config: actions.cursor_style: unknown %q", c.Actions.CursorStyle)
	}
	if c.Actions.ScreenshotQuality > 100 {
		return fmt.Errorf("config: actions.screenshot_quality: %d out of range", c.Actions.ScreenshotQuality)
	}
	switch c.RateLimit.Backend {
	case "off", "memory", "redis":
	default:
		return fmt.Errorf("config: rate_limit.backend: unknown %q", c.RateLimit.Backend)
	}
	return nil
}
