package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/prerender/internal/sitemap"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var (
	httpURL  = regexp.MustCompile(`^https?://[^\s/]+(/\S*)?$`)
	routeRe  = regexp.MustCompile(`^/\S*$`)
	localeRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Site    SiteConfig        `yaml:"site"`
	Catalog CatalogConfig     `yaml:"catalog"`
	Output  OutputConfig      `yaml:"output"`
	Locales []string          `yaml:"locales"`
	Browser BrowserConfig     `yaml:"browser"`
	Sitemap SitemapConfig     `yaml:"sitemap"`
	Ledger  LedgerConfig      `yaml:"ledger"`
	Serve   ServeConfig       `yaml:"serve"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := validation.Validate(c.Locales, validation.Each(validation.Match(localeRe))); err != nil {
		return fmt.Errorf("locales: %w", err)
	}
	seen := map[string]bool{}
	for _, l := range c.Locales {
		if seen[l] {
			return fmt.Errorf("locales: %q listed twice", l)
		}
		seen[l] = true
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if err := c.Sitemap.Validate(); err != nil {
		return fmt.Errorf("sitemap: %w", err)
	}
	if err := c.Serve.Validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
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

// SiteConfig locates the site to render and the content API behind it.
type SiteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIURL  string `yaml:"api_url"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.Match(httpURL)),
		validation.Field(&c.APIURL, validation.Required, validation.Match(httpURL)),
	)
}

// CatalogConfig describes the route layout of the site.
type CatalogConfig struct {
	PostsEndpoint string        `yaml:"posts_endpoint"`
	StaticRoutes  []string      `yaml:"static_routes"`
	ListingRoutes []string      `yaml:"listing_routes"`
	PostPrefix    string        `yaml:"post_prefix"`
	SlugSeparator string        `yaml:"slug_separator"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PostsEndpoint, validation.Required, validation.Match(routeRe)),
		validation.Field(&c.StaticRoutes, validation.Each(validation.Match(routeRe))),
		validation.Field(&c.ListingRoutes, validation.Each(validation.Match(routeRe))),
		validation.Field(&c.PostPrefix, validation.Match(routeRe)),
		validation.Field(&c.SlugSeparator, validation.Required),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
	)
}

// OutputConfig holds the artifact root.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// BrowserConfig controls the headless browser and page settling.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	UserAgent         string        `yaml:"user_agent"`
	ExecPath          string        `yaml:"exec_path"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ReadyExpression   string        `yaml:"ready_expression"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	GraceBefore       time.Duration `yaml:"grace_before"`
	GraceAfter        time.Duration `yaml:"grace_after"`
}

// Validate validates the browser configuration.
func (c *BrowserConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SettleDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.ReadyTimeout, validation.Min(time.Duration(0)),
			validation.When(c.ReadyExpression != "", validation.Required)),
		validation.Field(&c.NavigationTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.GraceBefore, validation.Min(time.Duration(0))),
		validation.Field(&c.GraceAfter, validation.Min(time.Duration(0))),
	)
}

// SitemapConfig holds sitemap options.
type SitemapConfig struct {
	ChangeFreq string `yaml:"changefreq"`
}

// Validate validates the sitemap configuration.
func (c *SitemapConfig) Validate() error {
	freqs := make([]any, len(sitemap.ChangeFreqs))
	for i, f := range sitemap.ChangeFreqs {
		freqs[i] = f
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.ChangeFreq, validation.Required, validation.In(freqs...)),
	)
}

// LedgerConfig holds the SQLite ledger location. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether the ledger is configured.
func (c *LedgerConfig) Enabled() bool {
	return c.Path != ""
}

// ServeConfig tunes daemon mode.
type ServeConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	if c.Interval < 0 || c.Debounce < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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
		Site: SiteConfig{
			BaseURL: "http://localhost:3000",
			APIURL:  "http://localhost:3000/api",
		},
		Catalog: CatalogConfig{
			PostsEndpoint: "/blog/post",
			ListingRoutes: []string{"/", "/blog"},
			PostPrefix:    "/blog",
			SlugSeparator: "-",
			FetchTimeout:  30 * time.Second,
		},
		Output: OutputConfig{
			Path: "./dist",
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "prerender",
			SettleDelay:       500 * time.Millisecond,
			ReadyTimeout:      10 * time.Second,
			NavigationTimeout: 30 * time.Second,
			GraceBefore:       time.Second,
			GraceAfter:        time.Second,
		},
		Sitemap: SitemapConfig{
			ChangeFreq: "hourly",
		},
		Ledger: LedgerConfig{
			Path: "./prerender.db",
		},
		Serve: ServeConfig{
			Debounce: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
