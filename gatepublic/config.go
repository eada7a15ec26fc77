package gatepublic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

type Config struct {
	// PublicPaths are routes reachable without authentication. "/" matches
	// exactly; every other entry matches itself and any sub-path.
	PublicPaths []string `yaml:"publicPaths"`

	// ExcludedPaths are top-level path segments the gatekeeper never runs
	// for at all (framework internals, static file mounts).
	ExcludedPaths []string `yaml:"excludedPaths"`

	// AssetsPrefix is the internal build-asset prefix served without auth.
	AssetsPrefix string `yaml:"assetsPrefix"`

	// AssetExtensions are file extensions treated as static assets.
	AssetExtensions []string `yaml:"assetExtensions"`

	// SignInPath is where unauthenticated requests are redirected.
	SignInPath string `yaml:"signInPath"`

	// ErrorPath is where requests with a broken credential are redirected.
	ErrorPath string `yaml:"errorPath"`

	Jwt JwtConfig `yaml:"jwt"`

	LocalUsers LocalUsersConfig `yaml:"localUsers"`

	// OAuth2 is an optional upstream identity provider for the sign-in flow.
	OAuth2 *OAuth2Provider `yaml:"oauth2"`

	// BaseDir is the base directory for storing gatekeeper files (sessions).
	// If not set, defaults to ~/.config/gatekeeper/ or GATEKEEPER_HOME.
	BaseDir string `yaml:"baseDir"`

	// SessionCookieName is the cookie carrying the session token.
	// Defaults to "gatekeeper-session" if not set.
	SessionCookieName string `yaml:"sessionCookieName"`

	// SessionFileName is the file used to persist issued sessions.
	// Defaults to "sessions.yaml" if not set.
	SessionFileName string `yaml:"sessionFileName"`
}

// JwtConfig contains configuration for session-token verification.
type JwtConfig struct {
	// CertsURL is the URL for a JWKS (JSON Web Key Set) endpoint
	CertsURL string `yaml:"certsUrl"`

	// PubKeyPath is the path to a local RSA public key file
	PubKeyPath string `yaml:"pubKeyPath"`

	// HmacSecret is the shared verification secret. If empty, the
	// GATEKEEPER_JWT_SECRET environment variable is used.
	HmacSecret string `yaml:"hmacSecret"`

	// Aud is the expected audience claim
	Aud string `yaml:"aud"`

	// Issuer is the expected issuer claim
	Issuer string `yaml:"issuer"`

	// Header is the HTTP header checked for a Bearer token when the
	// session cookie is absent (e.g., "Authorization")
	Header string `yaml:"header"`
}

type LocalUsersConfig struct {
	Enabled bool         `yaml:"enabled"`
	Users   []*LocalUser `yaml:"users"`
}

type LocalUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"` // Argon2id hash
}

type OAuth2Provider struct {
	Name         string   `yaml:"name"`
	AuthUrl      string   `yaml:"authUrl"`
	TokenUrl     string   `yaml:"tokenUrl"`
	WhoamiUrl    string   `yaml:"whoamiUrl"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
	RedirectURL  string   `yaml:"redirectUrl"`

	// UsernameField is the field of the whoami response holding the username
	UsernameField string `yaml:"usernameField"`
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// GetPublicPaths returns the allow-list, with default fallback.
func (c *Config) GetPublicPaths() []string {
	if len(c.PublicPaths) > 0 {
		return c.PublicPaths
	}
	return []string{"/", "/auth/signin", "/auth/error", "/api/auth", "/api/health-check"}
}

// GetExcludedPaths returns the exclusion segments, with default fallback.
func (c *Config) GetExcludedPaths() []string {
	if len(c.ExcludedPaths) > 0 {
		return c.ExcludedPaths
	}
	return []string{"_next", "static", "favicon.ico", "public"}
}

func (c *Config) GetAssetsPrefix() string {
	if c.AssetsPrefix != "" {
		return c.AssetsPrefix
	}
	return "/_next/"
}

func (c *Config) GetAssetExtensions() []string {
	if len(c.AssetExtensions) > 0 {
		return c.AssetExtensions
	}
	return []string{".ico", ".png", ".jpg", ".svg"}
}

func (c *Config) GetSignInPath() string {
	if c.SignInPath != "" {
		return c.SignInPath
	}
	return "/auth/signin"
}

func (c *Config) GetErrorPath() string {
	if c.ErrorPath != "" {
		return c.ErrorPath
	}
	return "/auth/error"
}

// GetSessionCookieName returns the session cookie name, with default fallback
func (c *Config) GetSessionCookieName() string {
	if c.SessionCookieName != "" {
		return c.SessionCookieName
	}
	return "gatekeeper-session"
}

// GetSessionFileName returns the session file name, with default fallback
func (c *Config) GetSessionFileName() string {
	if c.SessionFileName != "" {
		return c.SessionFileName
	}
	return "sessions.yaml"
}

// GetHmacSecret returns the shared verification secret.
// Priority: 1) HmacSecret config field, 2) GATEKEEPER_JWT_SECRET env var.
func (c *Config) GetHmacSecret() string {
	if c.Jwt.HmacSecret != "" {
		return c.Jwt.HmacSecret
	}
	return os.Getenv("GATEKEEPER_JWT_SECRET")
}

// GetDir returns the base directory for storing gatekeeper files.
// Priority: 1) BaseDir config field, 2) GATEKEEPER_HOME env var, 3) ~/.config/gatekeeper/
func (c *Config) GetDir() string {
	if c.BaseDir != "" {
		return c.BaseDir
	}

	if dir := os.Getenv("GATEKEEPER_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gatekeeper")
}

func (c *Config) FindUserByUsername(username string) *LocalUser {
	for _, user := range c.LocalUsers.Users {
		if user.Username == username {
			return user
		}
	}

	return nil
}

// ValidateRoutes checks every public path against the application's route
// table so a stale allow-list fails at startup instead of silently locking
// users out (or worse, leaving a route unprotected that the list assumed
// existed elsewhere). Routes are given as registered path prefixes.
func (c *Config) ValidateRoutes(routes []string) error {
	for _, public := range c.GetPublicPaths() {
		if !routeCovers(routes, public) {
			return fmt.Errorf("public path %q does not match any registered route", public)
		}
	}

	return nil
}

func routeCovers(routes []string, public string) bool {
	for _, route := range routes {
		if route == public {
			return true
		}

		// A route mounted above the public path serves it.
		trimmedRoute := strings.TrimSuffix(route, "/")
		if trimmedRoute != "" && strings.HasPrefix(public, trimmedRoute+"/") {
			return true
		}

		// A public prefix is also valid when concrete routes live under it.
		trimmedPublic := strings.TrimSuffix(public, "/")
		if trimmedPublic != "" && strings.HasPrefix(route, trimmedPublic+"/") {
			return true
		}
	}

	return false
}
