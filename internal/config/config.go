// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Verifier VerifierConfig `mapstructure:"verifier" yaml:"verifier"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP listener that exposes the verification endpoint.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// BrowserConfig holds settings for the headless browser processes.
type BrowserConfig struct {
	// ExecPath is the browser binary. Supports ~ expansion. When empty the
	// CHROME_PATH environment variable and then chromedp's own lookup are used.
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Locale          string        `mapstructure:"locale" yaml:"locale"`
	Languages       []string      `mapstructure:"languages" yaml:"languages"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"`
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	LaunchRate      float64       `mapstructure:"launch_rate" yaml:"launch_rate"`
	LaunchBurst     int           `mapstructure:"launch_burst" yaml:"launch_burst"`
	// AcquireTimeout bounds the wait for a free slot, the launch limiter and
	// the browser start together.
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	ReleaseTimeout  time.Duration `mapstructure:"release_timeout" yaml:"release_timeout"`
}

// TargetConfig describes the external site whose login flow is exercised.
type TargetConfig struct {
	EntryURL             string   `mapstructure:"entry_url" yaml:"entry_url"`
	LoginKeywords        []string `mapstructure:"login_keywords" yaml:"login_keywords"`
	LoginControlSelector string   `mapstructure:"login_control_selector" yaml:"login_control_selector"`
	AccountXPath         string   `mapstructure:"account_xpath" yaml:"account_xpath"`
	PasswordXPath        string   `mapstructure:"password_xpath" yaml:"password_xpath"`
	SubmitXPath          string   `mapstructure:"submit_xpath" yaml:"submit_xpath"`
	AccountSelectors     []string `mapstructure:"account_selectors" yaml:"account_selectors"`
	PasswordSelectors    []string `mapstructure:"password_selectors" yaml:"password_selectors"`
	SubmitSelectors      []string `mapstructure:"submit_selectors" yaml:"submit_selectors"`
}

// VerifierConfig tunes the waits and heuristics used to judge a login attempt.
type VerifierConfig struct {
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	FieldTimeout       time.Duration `mapstructure:"field_timeout" yaml:"field_timeout"`
	DefaultIndicator   string        `mapstructure:"default_indicator" yaml:"default_indicator"`
	FallbackIndicators []string      `mapstructure:"fallback_indicators" yaml:"fallback_indicators"`
	LogoutKeywords     []string      `mapstructure:"logout_keywords" yaml:"logout_keywords"`
	LinkKeywords       []string      `mapstructure:"link_keywords" yaml:"link_keywords"`
	ExposeStack        bool          `mapstructure:"expose_stack" yaml:"expose_stack"`
}

// DefaultIndicator is the generic "logout link" expression used when a caller
// does not supply its own.
const DefaultIndicator = "//a[contains(@class, 'logout')]"

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "authcheck")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	// Must exceed Config.VerificationBudget; Validate enforces it.
	v.SetDefault("server.write_timeout", "240s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	// -- Browser --
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.locale", "ja-JP")
	v.SetDefault("browser.languages", []string{"ja-JP", "ja", "en-US", "en"})
	v.SetDefault("browser.timezone", "Asia/Tokyo")
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.launch_rate", 2.0)
	v.SetDefault("browser.launch_burst", 4)
	v.SetDefault("browser.acquire_timeout", "30s")
	v.SetDefault("browser.release_timeout", "10s")

	// -- Target --
	v.SetDefault("target.entry_url", "https://ats.rct.airwork.net/")
	v.SetDefault("target.login_keywords", []string{"ログイン"})
	v.SetDefault("target.login_control_selector", "a, button")
	v.SetDefault("target.account_xpath", "/html/body/div[1]/div/main/div/form/div[1]/div/input")
	v.SetDefault("target.password_xpath", "/html/body/div[1]/div/main/div/form/div[2]/div/input")
	v.SetDefault("target.submit_xpath", "/html/body/div[1]/div/main/div/form/button")
	v.SetDefault("target.account_selectors", []string{
		"#account",
		`input[name="account"]`,
		"#loginId",
		`input[name="loginId"]`,
		"#email",
		`input[name="email"]`,
		`input[type="email"]`,
		"#username",
		`input[name="username"]`,
		`input[type="text"]`,
	})
	v.SetDefault("target.password_selectors", []string{
		"#password",
		`input[name="password"]`,
		`input[type="password"]`,
	})
	v.SetDefault("target.submit_selectors", []string{
		".login-button",
		`button[type="submit"]`,
		`input[type="submit"]`,
		"form button",
	})

	// -- Verifier --
	v.SetDefault("verifier.navigation_timeout", "30s")
	v.SetDefault("verifier.field_timeout", "5s")
	v.SetDefault("verifier.default_indicator", DefaultIndicator)
	v.SetDefault("verifier.fallback_indicators", []string{
		"//a[contains(@class, 'logout')]",
		"//button[contains(@class, 'logout')]",
		"//a[contains(text(), 'ログアウト')]",
		"//button[contains(text(), 'ログアウト')]",
		"//a[contains(@href, 'logout')]",
		"//a[contains(text(), 'Logout') or contains(text(), 'Log out') or contains(text(), 'Sign out')]",
		"//*[contains(@class, 'logout')]",
		"//*[contains(@class, 'signout') or contains(@class, 'sign-out')]",
	})
	v.SetDefault("verifier.logout_keywords", []string{"ログアウト", "サインアウト", "logout", "log out", "sign out", "signout"})
	v.SetDefault("verifier.link_keywords", []string{"ログアウト", "サインアウト", "logout", "log out", "signout", "sign out", "sign-out", "sign_out"})
	v.SetDefault("verifier.expose_stack", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("browser.exec_path", "AUTHCHECK_BROWSER_EXEC_PATH")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if err := c.Verifier.Validate(); err != nil {
		return fmt.Errorf("verifier configuration invalid: %w", err)
	}
	// A zero write timeout disables the limit in net/http.
	if wt, budget := c.Server.WriteTimeout, c.VerificationBudget(); wt > 0 && wt <= budget {
		return fmt.Errorf("server configuration invalid: write_timeout (%s) must exceed the worst-case verification time (%s)", wt, budget)
	}
	return nil
}

// VerificationBudget is the longest a single verification can take when
// every bounded wait runs to its limit: acquiring the browser, three page
// loads (entry page, login form, post-submit settle), ten element waits and
// the release.
func (c *Config) VerificationBudget() time.Duration {
	return c.Browser.AcquireTimeout +
		3*c.Verifier.NavigationTimeout +
		10*c.Verifier.FieldTimeout +
		c.Browser.ReleaseTimeout
}

// Validate checks the BrowserConfig settings.
func (b *BrowserConfig) Validate() error {
	if b.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be a positive integer")
	}
	if b.LaunchRate < 0 {
		return fmt.Errorf("launch_rate must not be negative")
	}
	if b.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be a positive duration")
	}
	if b.ReleaseTimeout <= 0 {
		return fmt.Errorf("release_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the TargetConfig settings.
func (t *TargetConfig) Validate() error {
	u, err := url.Parse(t.EntryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("entry_url must be an absolute URL, got %q", t.EntryURL)
	}
	if len(t.LoginKeywords) == 0 {
		return fmt.Errorf("login_keywords must not be empty")
	}
	if len(t.AccountSelectors) == 0 || len(t.PasswordSelectors) == 0 || len(t.SubmitSelectors) == 0 {
		return fmt.Errorf("account_selectors, password_selectors, and submit_selectors are required")
	}
	return nil
}

// Validate checks the VerifierConfig settings.
func (v *VerifierConfig) Validate() error {
	if v.NavigationTimeout <= 0 || v.FieldTimeout <= 0 {
		return fmt.Errorf("navigation_timeout and field_timeout must be positive durations")
	}
	if v.DefaultIndicator == "" {
		return fmt.Errorf("default_indicator is required")
	}
	if len(v.LogoutKeywords) == 0 {
		return fmt.Errorf("logout_keywords must not be empty")
	}
	return nil
}
