package hasjwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesread/httpgatekeeper/gatepublic"
	log "github.com/sirupsen/logrus"
)

// SessionChecker lets the verifier reject tokens whose session ID was
// revoked, even while the token itself is still temporally valid.
type SessionChecker interface {
	IsActive(sid string) bool
}

// Verifier validates session JWTs from a cookie or Bearer header. Key
// material state (JWKS client, cached public key) lives on the instance, so
// one Verifier should be constructed per GatekeeperContext.
type Verifier struct {
	sessions SessionChecker

	jwksMu   sync.Mutex
	jwks     keyfunc.Keyfunc
	jwksErr  error
	jwksDone bool

	keyMu         sync.RWMutex
	pubKey        *rsa.PublicKey
	loadedKeyPath string
}

// New creates a Verifier without session revocation checking.
func New() *Verifier {
	return &Verifier{}
}

// NewWithSessions creates a Verifier that additionally requires the token's
// "sid" claim to name an active session.
func NewWithSessions(sessions SessionChecker) *Verifier {
	return &Verifier{sessions: sessions}
}

// Verify implements gatepublic.TokenVerifier. A request with no credential
// returns (nil, nil); a credential that fails verification returns an error.
func (v *Verifier) Verify(evalCtx *gatepublic.EvalContext) (*gatepublic.Token, error) {
	raw, found := extractToken(evalCtx.Request, evalCtx.Config)
	if !found {
		return nil, nil
	}

	claims, err := v.parse(evalCtx.Context, evalCtx.Config, raw)
	if err != nil {
		return nil, fmt.Errorf("jwt verification failed: %w", err)
	}

	if v.sessions != nil {
		sid, _ := claims["sid"].(string)
		if sid == "" || !v.sessions.IsActive(sid) {
			return nil, fmt.Errorf("jwt session %q is not active", sid)
		}
	}

	subject, _ := claims.GetSubject()

	return &gatepublic.Token{
		Subject: subject,
		Claims:  claims,
	}, nil
}

// extractToken pulls the raw JWT from the session cookie, falling back to
// the configured header with a Bearer prefix.
func extractToken(req *http.Request, cfg *gatepublic.Config) (string, bool) {
	if cookie, err := req.Cookie(cfg.GetSessionCookieName()); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	headerName := cfg.Jwt.Header
	if headerName == "" {
		headerName = "Authorization"
	}

	headerValue := req.Header.Get(headerName)
	if headerValue == "" {
		return "", false
	}

	token, found := strings.CutPrefix(headerValue, "Bearer ")
	if !found || token == "" {
		return "", false
	}

	return token, true
}

// buildParserOptions builds parser options from JWT config
func buildParserOptions(jwtCfg gatepublic.JwtConfig) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(5 * time.Second),
	}

	if jwtCfg.Aud != "" {
		opts = append(opts, jwt.WithAudience(jwtCfg.Aud))
	}

	if jwtCfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtCfg.Issuer))
	}

	return opts
}

func (v *Verifier) parse(ctx context.Context, cfg *gatepublic.Config, raw string) (jwt.MapClaims, error) {
	jwtCfg := cfg.Jwt

	var token *jwt.Token
	var err error

	switch {
	case jwtCfg.CertsURL != "":
		token, err = v.parseWithRemoteKey(ctx, cfg, raw)
	case jwtCfg.PubKeyPath != "":
		token, err = v.parseWithLocalKey(cfg, raw)
	default:
		token, err = parseWithHmac(cfg, raw)
	}

	if err != nil {
		log.WithFields(log.Fields{
			"method": authMethod(jwtCfg),
			"error":  err,
		}).Debugf("JWT parse failure")
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("jwt token validation failed: token.Valid=%v, claims type=%T", token.Valid, token.Claims)
	}

	return claims, nil
}

// authMethod returns a string describing the verification method used
func authMethod(jwtCfg gatepublic.JwtConfig) string {
	if jwtCfg.CertsURL != "" {
		return fmt.Sprintf("JWKS (URL: %s)", jwtCfg.CertsURL)
	}
	if jwtCfg.PubKeyPath != "" {
		return fmt.Sprintf("local key (path: %s)", jwtCfg.PubKeyPath)
	}
	return "HMAC"
}

func parseWithHmac(cfg *gatepublic.Config, raw string) (*jwt.Token, error) {
	secret := cfg.GetHmacSecret()
	if secret == "" {
		return nil, errors.New("no JWT verification method configured")
	}

	opts := append(buildParserOptions(cfg.Jwt), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return jwt.Parse(raw, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
}

func (v *Verifier) parseWithLocalKey(cfg *gatepublic.Config, raw string) (*jwt.Token, error) {
	key, err := v.loadLocalKey(cfg.Jwt.PubKeyPath)
	if err != nil {
		return nil, err
	}

	opts := append(buildParserOptions(cfg.Jwt), jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))

	return jwt.Parse(raw, func(_ *jwt.Token) (any, error) {
		return key, nil
	}, opts...)
}

// loadLocalKey loads and caches the RSA public key from disk.
func (v *Verifier) loadLocalKey(path string) (*rsa.PublicKey, error) {
	v.keyMu.RLock()
	if v.pubKey != nil && v.loadedKeyPath == path {
		key := v.pubKey
		v.keyMu.RUnlock()
		return key, nil
	}
	v.keyMu.RUnlock()

	v.keyMu.Lock()
	defer v.keyMu.Unlock()

	if v.pubKey != nil && v.loadedKeyPath == path {
		return v.pubKey, nil
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}

	v.pubKey = key
	v.loadedKeyPath = path

	return key, nil
}

func (v *Verifier) parseWithRemoteKey(ctx context.Context, cfg *gatepublic.Config, raw string) (*jwt.Token, error) {
	if err := v.initJwks(ctx, cfg.Jwt.CertsURL); err != nil {
		return nil, err
	}

	opts := buildParserOptions(cfg.Jwt)

	// keyfunc handles key rotation and refresh internally
	return jwt.Parse(raw, v.jwks.Keyfunc, opts...)
}

// initJwks initializes the JWKS client once, allowing retry after failure.
func (v *Verifier) initJwks(ctx context.Context, certsURL string) error {
	v.jwksMu.Lock()
	defer v.jwksMu.Unlock()

	if v.jwksDone && v.jwksErr == nil {
		return nil
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{certsURL})
	if err != nil {
		v.jwksErr = fmt.Errorf("init JWKS from %s: %w", certsURL, err)

		log.WithFields(log.Fields{
			"certsURL": certsURL,
			"error":    err,
		}).Errorf("Failed to initialize JWKS")

		return v.jwksErr
	}

	v.jwks = jwks
	v.jwksErr = nil
	v.jwksDone = true

	return nil
}
