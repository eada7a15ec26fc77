package signin

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jamesread/httpgatekeeper/gatepublic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// oauthStateTTL bounds how long a login attempt may sit between redirect and
// callback before its state expires.
const oauthStateTTL = 15 * time.Minute

const oauthStateCookieName = "gatekeeper-oauth-state"

// OAuth2Handler implements the optional OAuth2 sign-in path: redirect to an
// upstream identity provider, exchange the callback code, fetch the user's
// identity and issue the same session token local sign-in does.
type OAuth2Handler struct {
	cfg      *gatepublic.Config
	signin   *Handler
	provider *oauth2.Config

	states   map[string]*oauthState
	statesMu sync.Mutex
}

// oauthState stores the single-use temporary state for one login attempt.
type oauthState struct {
	callbackURL string
	expiresAt   time.Time
}

// NewOAuth2Handler creates an OAuth2 sign-in handler from the configured
// provider. Returns an error if no provider is configured.
func NewOAuth2Handler(cfg *gatepublic.Config, signinHandler *Handler) (*OAuth2Handler, error) {
	if cfg.OAuth2 == nil {
		return nil, fmt.Errorf("no oauth2 provider configured")
	}

	provider := &oauth2.Config{
		ClientID:     cfg.OAuth2.ClientID,
		ClientSecret: cfg.OAuth2.ClientSecret,
		Scopes:       cfg.OAuth2.Scopes,
		RedirectURL:  cfg.OAuth2.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.OAuth2.AuthUrl,
			TokenURL: cfg.OAuth2.TokenUrl,
		},
	}

	return &OAuth2Handler{
		cfg:      cfg,
		signin:   signinHandler,
		provider: provider,
		states:   make(map[string]*oauthState),
	}, nil
}

// HandleLogin starts the OAuth2 flow, remembering the callbackUrl so the
// callback can finish the round trip back to the original destination.
func (h *OAuth2Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randState()
	if err != nil {
		log.WithError(err).Error("Failed to generate OAuth2 state")
		http.Error(w, "Sign-in failed", http.StatusInternalServerError)
		return
	}

	h.statesMu.Lock()
	h.pruneExpiredStates(time.Now())
	h.states[state] = &oauthState{
		callbackURL: r.URL.Query().Get("callbackUrl"),
		expiresAt:   time.Now().Add(oauthStateTTL),
	}
	h.statesMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback validates the state round trip, exchanges the code and
// issues a session for the upstream identity.
func (h *OAuth2Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	loginState, ok := h.takeState(w, r)
	if !ok {
		http.Error(w, "Invalid OAuth2 state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing OAuth2 code", http.StatusBadRequest)
		return
	}

	token, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		log.WithError(err).Error("OAuth2 code exchange failed")
		http.Error(w, "Sign-in failed", http.StatusBadGateway)
		return
	}

	username, err := h.fetchUsername(r, token)
	if err != nil {
		log.WithError(err).Error("OAuth2 whoami lookup failed")
		http.Error(w, "Sign-in failed", http.StatusBadGateway)
		return
	}

	if err := h.signin.IssueSession(w, username, "oauth2"); err != nil {
		log.WithError(err).Error("Failed to issue session")
		http.Error(w, "Sign-in failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, SafeCallbackURL(r, loginState.callbackURL), http.StatusSeeOther)
}

// takeState validates and consumes the state for this callback. States are
// single-use to prevent replay.
func (h *OAuth2Handler) takeState(w http.ResponseWriter, r *http.Request) (*oauthState, bool) {
	cookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || cookie.Value == "" {
		log.Debugf("OAuth2 callback without state cookie")
		return nil, false
	}

	queryState := r.URL.Query().Get("state")
	if queryState == "" || queryState != cookie.Value {
		log.WithFields(log.Fields{
			"statesMatch": queryState == cookie.Value,
		}).Warnf("OAuth2 callback state mismatch")
		return nil, false
	}

	h.statesMu.Lock()
	defer h.statesMu.Unlock()

	loginState, ok := h.states[queryState]
	if !ok {
		log.Warnf("OAuth2 callback with unknown state")
		return nil, false
	}

	delete(h.states, queryState)

	if time.Now().After(loginState.expiresAt) {
		log.Warnf("OAuth2 callback with expired state")
		return nil, false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	return loginState, true
}

// fetchUsername asks the provider's whoami endpoint who just signed in.
func (h *OAuth2Handler) fetchUsername(r *http.Request, token *oauth2.Token) (string, error) {
	client := h.provider.Client(r.Context(), token)

	resp, err := client.Get(h.cfg.OAuth2.WhoamiUrl)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", h.cfg.OAuth2.WhoamiUrl, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whoami endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read whoami response: %w", err)
	}

	var userData map[string]any
	if err := json.Unmarshal(body, &userData); err != nil {
		return "", fmt.Errorf("parse whoami response: %w", err)
	}

	field := h.cfg.OAuth2.UsernameField
	if field == "" {
		field = "username"
	}

	username, _ := userData[field].(string)
	if username == "" {
		return "", fmt.Errorf("whoami response has no %q field", field)
	}

	return username, nil
}

// pruneExpiredStates removes expired login attempts. Caller holds statesMu.
func (h *OAuth2Handler) pruneExpiredStates(now time.Time) {
	for state, loginState := range h.states {
		if now.After(loginState.expiresAt) {
			delete(h.states, state)
		}
	}
}

func randState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
