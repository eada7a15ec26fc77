package gatekeeper

import (
	"fmt"
	"sync"

	"github.com/jamesread/httpgatekeeper/gatepublic"
	"github.com/jamesread/httpgatekeeper/sessions"
	log "github.com/sirupsen/logrus"
)

// GatekeeperContext contains the configuration, verifier chain and session
// registry for a gatekeeper instance. This is the main entry point for users
// of the library.
//
// The Config must not be mutated after GatekeeperContext creation; create a
// new context instead. Call Shutdown() when the context is no longer needed
// so the session registry gets its final write.
type GatekeeperContext struct {
	Config   *gatepublic.Config
	Sessions *sessions.SessionRegistry

	chain        []gatepublic.TokenVerifier
	chainMu      sync.RWMutex
	shutdownOnce sync.Once
}

// NewGatekeeperContext creates a new GatekeeperContext with the provided
// config and session registry. It validates the configuration and loads any
// previously persisted sessions.
func NewGatekeeperContext(cfg *gatepublic.Config, registry *sessions.SessionRegistry) (*GatekeeperContext, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil; callers must explicitly provide a SessionRegistry")
	}

	ctx := &GatekeeperContext{
		Config:   cfg,
		Sessions: registry,
		chain:    make([]gatepublic.TokenVerifier, 0),
	}

	if err := ctx.Sessions.Load(cfg.GetDir(), cfg.GetSessionFileName()); err != nil {
		// Non-fatal, the registry starts empty
		log.WithError(err).Debug("Failed to load sessions, starting with empty registry")
	}

	return ctx, nil
}

// AddVerifier appends a token verifier to this context's chain.
func (ctx *GatekeeperContext) AddVerifier(verifier gatepublic.TokenVerifier) {
	ctx.chainMu.Lock()
	defer ctx.chainMu.Unlock()
	ctx.chain = append(ctx.chain, verifier)
}

// ClearVerifiers removes all verifiers from the chain.
func (ctx *GatekeeperContext) ClearVerifiers() {
	ctx.chainMu.Lock()
	defer ctx.chainMu.Unlock()
	ctx.chain = make([]gatepublic.TokenVerifier, 0)
}

// GetVerifiers returns a copy of the current verifier chain.
func (ctx *GatekeeperContext) GetVerifiers() []gatepublic.TokenVerifier {
	ctx.chainMu.RLock()
	defer ctx.chainMu.RUnlock()

	chain := make([]gatepublic.TokenVerifier, len(ctx.chain))
	copy(chain, ctx.chain)
	return chain
}

// Shutdown performs a final session registry write. It is safe to call
// multiple times; subsequent calls are no-ops.
func (ctx *GatekeeperContext) Shutdown() error {
	var err error
	ctx.shutdownOnce.Do(func() {
		err = ctx.Sessions.Shutdown(ctx.Config.GetDir(), ctx.Config.GetSessionFileName())
	})
	return err
}

// validateJwtConfig validates session-token verification configuration
func validateJwtConfig(cfg *gatepublic.Config) error {
	if cfg.Jwt.CertsURL != "" && cfg.Jwt.PubKeyPath != "" {
		return fmt.Errorf("JWT configuration error: cannot specify both certsUrl and pubKeyPath")
	}

	if cfg.Jwt.CertsURL == "" && cfg.Jwt.PubKeyPath == "" && cfg.GetHmacSecret() == "" {
		return fmt.Errorf("JWT configuration error: no key source configured; set hmacSecret or GATEKEEPER_JWT_SECRET")
	}

	return nil
}

// validateOAuth2Config validates OAuth2 sign-in configuration
func validateOAuth2Config(cfg *gatepublic.Config) error {
	if cfg.OAuth2 != nil && cfg.OAuth2.RedirectURL == "" {
		return fmt.Errorf("OAuth2 configuration error: redirectUrl is required when an oauth2 provider is configured")
	}
	return nil
}

// validateConfig validates the configuration for consistency and required fields.
func validateConfig(cfg *gatepublic.Config) error {
	if err := validateJwtConfig(cfg); err != nil {
		return err
	}
	return validateOAuth2Config(cfg)
}
