package signin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesread/golure/pkg/redact"
	"github.com/jamesread/httpgatekeeper/gatepublic"
	"github.com/jamesread/httpgatekeeper/sessions"
	log "github.com/sirupsen/logrus"
)

// sessionTokenLifetime matches the registry's session lifetime; revocation
// is handled by the registry, not token expiry.
const sessionTokenLifetime = 30 * 24 * time.Hour

// Handler serves the sign-in and error pages the gatekeeper redirects to,
// and issues session tokens on successful authentication.
type Handler struct {
	cfg      *gatepublic.Config
	sessions *sessions.SessionRegistry
}

// NewHandler creates a sign-in flow handler. Issuing tokens requires an HMAC
// secret; RSA/JWKS verification setups issue their tokens elsewhere.
func NewHandler(cfg *gatepublic.Config, registry *sessions.SessionRegistry) (*Handler, error) {
	if cfg.GetHmacSecret() == "" {
		return nil, fmt.Errorf("sign-in handler requires an HMAC secret to issue session tokens")
	}

	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	return &Handler{cfg: cfg, sessions: registry}, nil
}

// HandleSignIn serves the sign-in form on GET and processes credentials on
// POST. The callbackUrl query parameter set by the gatekeeper is carried
// through the form so the user lands back on their intended destination.
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.renderSignInForm(w, r)
	case http.MethodPost:
		h.handleSignInPost(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) renderSignInForm(w http.ResponseWriter, r *http.Request) {
	callbackURL := r.URL.Query().Get("callbackUrl")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
	<h1>Sign in</h1>
	<form method="post" action="%s">
		<input type="hidden" name="callbackUrl" value="%s" />
		<label>Username <input type="text" name="username" /></label>
		<label>Password <input type="password" name="password" /></label>
		<button type="submit">Sign in</button>
	</form>
</body>
</html>`, html.EscapeString(h.cfg.GetSignInPath()), html.EscapeString(callbackURL))
}

func (h *Handler) handleSignInPost(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		http.Error(w, "Username and password required", http.StatusBadRequest)
		return
	}

	if !CheckUserPassword(h.cfg, username, password) {
		log.WithFields(log.Fields{
			"username": username,
		}).Debugf("Sign-in rejected: invalid credentials")

		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := h.IssueSession(w, username, "local"); err != nil {
		log.WithError(err).Error("Failed to issue session")
		http.Error(w, "Sign-in failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, SafeCallbackURL(r, r.FormValue("callbackUrl")), http.StatusSeeOther)
}

// HandleError renders the error page the gatekeeper redirects broken
// credentials to.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("error")
	if code == "" {
		code = "UNKNOWN"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authentication error</title></head>
<body>
	<h1>Authentication error</h1>
	<p>Error code: <strong>%s</strong></p>
	<p><a href="%s">Sign in again</a></p>
</body>
</html>`, html.EscapeString(code), html.EscapeString(h.cfg.GetSignInPath()))
}

// HandleSignOut revokes the current session and clears the cookie.
func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cfg.GetSessionCookieName()); err == nil && cookie.Value != "" {
		if sid := sessionIDFromToken(cookie.Value); sid != "" {
			h.sessions.Revoke(h.cfg.GetDir(), h.cfg.GetSessionFileName(), sid)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.GetSessionCookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r, h.cfg.GetSignInPath(), http.StatusSeeOther)
}

// IssueSession registers a fresh session ID, signs a session token carrying
// it and sets the session cookie.
func (h *Handler) IssueSession(w http.ResponseWriter, username, provider string) error {
	sid, err := randomSessionID()
	if err != nil {
		return fmt.Errorf("generate session ID: %w", err)
	}

	h.sessions.Register(h.cfg.GetDir(), h.cfg.GetSessionFileName(), sid, username, provider)

	signed, err := h.signSessionToken(username, sid)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.GetSessionCookieName(),
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	log.WithFields(log.Fields{
		"username": username,
		"provider": provider,
		"sid":      redact.RedactString(sid),
	}).Infof("Session issued")

	return nil
}

func (h *Handler) signSessionToken(username, sid string) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": username,
		"sid": sid,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(sessionTokenLifetime)),
	}

	if h.cfg.Jwt.Issuer != "" {
		claims["iss"] = h.cfg.Jwt.Issuer
	}

	if h.cfg.Jwt.Aud != "" {
		claims["aud"] = h.cfg.Jwt.Aud
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(h.cfg.GetHmacSecret()))
}

// sessionIDFromToken extracts the sid claim without requiring a valid
// signature; sign-out of a broken token should still clear the cookie.
func sessionIDFromToken(raw string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()

	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return ""
	}

	sid, _ := claims["sid"].(string)
	return sid
}

// SafeCallbackURL restricts post-sign-in redirects to same-host targets so
// the callbackUrl parameter cannot be abused as an open redirect.
func SafeCallbackURL(r *http.Request, callbackURL string) string {
	if callbackURL == "" {
		return "/"
	}

	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return "/"
	}

	if parsed.Host != "" && parsed.Host != r.Host {
		return "/"
	}

	return callbackURL
}

func randomSessionID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
