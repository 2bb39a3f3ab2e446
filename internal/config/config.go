// The application's root configuration. Everything the engine needs is
// threaded from here through explicit constructors; nothing deeper in the
// call path reads the environment directly.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Report   ReportConfig   `mapstructure:"report"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ColorConfig defines console color names per log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height"`
	// ScreenshotQuality is the JPEG quality used for oracle captures.
	// Lowering it keeps vision requests small; staleness matters more than
	// fidelity there.
	ScreenshotQuality int `mapstructure:"screenshot_quality"`
}

// OracleProvider names the wire dialect of an oracle endpoint.
type OracleProvider string

const (
	ProviderOpenAI    OracleProvider = "openai"
	ProviderAnthropic OracleProvider = "anthropic"
	ProviderOllama    OracleProvider = "ollama"
)

// OracleModelConfig holds settings for one oracle model endpoint.
type OracleModelConfig struct {
	Provider    OracleProvider `mapstructure:"provider"`
	Model       string         `mapstructure:"model"`
	APIKey      string         `mapstructure:"api_key"`
	Endpoint    string         `mapstructure:"endpoint"`
	APITimeout  time.Duration  `mapstructure:"api_timeout"`
	Temperature float32        `mapstructure:"temperature"`
	MaxTokens   int            `mapstructure:"max_tokens"`
}

// OracleConfig holds the reasoning and vision oracle endpoints. The two may
// point at the same model; they are separate so the vision side can use a
// multimodal model while interpretation uses a cheaper text one.
type OracleConfig struct {
	Reasoning OracleModelConfig `mapstructure:"reasoning"`
	Vision    OracleModelConfig `mapstructure:"vision"`
}

// CompilerConfig holds plan compilation and cache settings.
type CompilerConfig struct {
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheDir     string        `mapstructure:"cache_dir"`
	CacheMaxAge  time.Duration `mapstructure:"cache_max_age"`
	// ForceRecompile bypasses cache reads (writes still happen).
	ForceRecompile bool `mapstructure:"force_recompile"`
}

// ExecutorConfig holds per-step execution settings.
type ExecutorConfig struct {
	VisionEnabled bool `mapstructure:"vision_enabled"`
	// ElementTimeout bounds a single locate attempt.
	ElementTimeout time.Duration `mapstructure:"element_timeout"`
	// QuiescenceTimeout bounds the post-action stabilization wait.
	QuiescenceTimeout time.Duration `mapstructure:"quiescence_timeout"`
	// ValidateRetries and ValidateRetryDelay define the DOM-first budget of
	// exists checks before vision is consulted.
	ValidateRetries    int           `mapstructure:"validate_retries"`
	ValidateRetryDelay time.Duration `mapstructure:"validate_retry_delay"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
}

// ReportConfig holds report sink settings.
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	// Screenshots embeds step screenshots in the JSON report when true.
	Screenshots bool `mapstructure:"screenshots"`
}

// PostgresConfig holds the optional run-history database. Empty URL
// disables persistence entirely.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// SetDefaults registers defaults so the tool runs with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "specdriver")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.screenshot_quality", 55)

	v.SetDefault("oracle.reasoning.provider", "openai")
	v.SetDefault("oracle.reasoning.api_timeout", 60*time.Second)
	v.SetDefault("oracle.reasoning.max_tokens", 4096)
	v.SetDefault("oracle.vision.provider", "openai")
	v.SetDefault("oracle.vision.api_timeout", 45*time.Second)
	v.SetDefault("oracle.vision.max_tokens", 1024)

	v.SetDefault("compiler.cache_enabled", true)
	v.SetDefault("compiler.cache_dir", ".specdriver/cache")
	v.SetDefault("compiler.cache_max_age", 7*24*time.Hour)

	v.SetDefault("executor.vision_enabled", true)
	v.SetDefault("executor.element_timeout", 8*time.Second)
	v.SetDefault("executor.quiescence_timeout", 6*time.Second)
	v.SetDefault("executor.validate_retries", 5)
	v.SetDefault("executor.validate_retry_delay", time.Second)
	v.SetDefault("executor.navigation_timeout", 30*time.Second)

	v.SetDefault("report.output_dir", ".specdriver/reports")
	v.SetDefault("report.screenshots", true)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Executor.ValidateRetries <= 0 {
		return fmt.Errorf("executor.validate_retries must be positive")
	}
	if c.Executor.ElementTimeout <= 0 {
		return fmt.Errorf("executor.element_timeout must be positive")
	}
	if c.Compiler.CacheEnabled && c.Compiler.CacheDir == "" {
		return fmt.Errorf("compiler.cache_dir is required when caching is enabled")
	}
	if c.Compiler.CacheMaxAge <= 0 {
		return fmt.Errorf("compiler.cache_max_age must be positive")
	}
	return nil
}

// Load unmarshals the viper state into a Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}
