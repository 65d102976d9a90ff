// Package portal describes the fixed layout of the legacy HughesNet field portal.
package portal

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Defaults for the production portal
const (
	DefaultBaseURL    = "https://dwayinstalls.hns.com"
	DefaultLoginPath  = "/start/login.jsp"
	DefaultHomePath   = "/start/Home.jsp"
	DefaultDetailPath = "/forms/viewservice.jsp?id={id}"
	DefaultFrameDir   = "/start/"
	// SearchModule is the portal module that lists open service orders
	SearchModule = "SoSearch"
)

// Config locates the portal pages
type Config struct {
	BaseURL    string
	LoginPath  string
	HomePath   string
	DetailPath string
	FrameDir   string
}

// DefaultConfig returns the production layout
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		LoginPath:  DefaultLoginPath,
		HomePath:   DefaultHomePath,
		DetailPath: DefaultDetailPath,
		FrameDir:   DefaultFrameDir,
	}
}

// WithDefaults fills empty fields from DefaultConfig
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	if c.HomePath == "" {
		c.HomePath = d.HomePath
	}
	if c.DetailPath == "" {
		c.DetailPath = d.DetailPath
	}
	if c.FrameDir == "" {
		c.FrameDir = d.FrameDir
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// LoginURL is where the login form posts
func (c Config) LoginURL() string {
	return c.BaseURL + c.LoginPath
}

// HomeURL is the dashboard frameset
func (c Config) HomeURL() string {
	return c.BaseURL + c.HomePath
}

// DetailURL is the detail page of one order
func (c Config) DetailURL(id string) string {
	return c.BaseURL + strings.ReplaceAll(c.DetailPath, "{id}", url.QueryEscape(id))
}

// Resolve turns a menu href into an absolute URL against the portal root
func (c Config) Resolve(href string) string {
	return ResolveURL(c.BaseURL+"/", href)
}

// ResolveFrame turns a frame src into an absolute URL. Frame sources are
// relative to the frame directory rather than the page that declares them.
func (c Config) ResolveFrame(src string) string {
	return ResolveURL(c.BaseURL+c.FrameDir, src)
}

// ValidateURL checks that a configured portal URL is usable
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: must be http or https, got %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}
	return nil
}

// ResolveURL resolves a possibly-relative href against a base URL
func ResolveURL(base, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return u.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(u).String()
}

var (
	passwordInputRe = regexp.MustCompile(`(?i)<input[^>]+name\s*=\s*["']?password\b`)
	loginFormRe     = regexp.MustCompile(`(?i)<form[^>]+action\s*=\s*["'][^"']*login[^"']*["']`)
)

// IsLoginPage reports whether the page is the portal's login form, which is
// what the portal serves in place of any page once a session is gone.
func IsLoginPage(html string) bool {
	return passwordInputRe.MatchString(html) || loginFormRe.MatchString(html)
}
