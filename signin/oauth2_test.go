package signin

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jamesread/httpgatekeeper/gatepublic"
	"github.com/jamesread/httpgatekeeper/sessions"
	"github.com/stretchr/testify/assert"
)

// fakeIdp serves the token and whoami endpoints of an upstream provider.
func fakeIdp(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "upstream-token", "token_type": "Bearer"}`)
	})

	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"username": "alice"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestOAuth2Handler(t *testing.T) (*OAuth2Handler, *sessions.SessionRegistry) {
	t.Helper()

	idp := fakeIdp(t)

	cfg := &gatepublic.Config{
		Jwt:     gatepublic.JwtConfig{HmacSecret: "test-secret"},
		BaseDir: t.TempDir(),
		OAuth2: &gatepublic.OAuth2Provider{
			Name:        "idp",
			AuthUrl:     idp.URL + "/authorize",
			TokenUrl:    idp.URL + "/token",
			WhoamiUrl:   idp.URL + "/whoami",
			ClientID:    "client-id",
			RedirectURL: "http://example.com/auth/oauth2/callback",
		},
	}

	registry := sessions.NewSessionRegistry(nil)
	t.Cleanup(func() {
		_ = registry.Shutdown(cfg.GetDir(), cfg.GetSessionFileName())
	})

	signinHandler, err := NewHandler(cfg, registry)
	assert.NoError(t, err)

	handler, err := NewOAuth2Handler(cfg, signinHandler)
	assert.NoError(t, err)

	return handler, registry
}

func TestOAuth2_LoginRedirectsToProvider(t *testing.T) {
	handler, _ := newTestOAuth2Handler(t)

	rec := httptest.NewRecorder()
	handler.HandleLogin(rec, httptest.NewRequest("GET", "/auth/oauth2/login?callbackUrl=%2Fdashboard", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/authorize")
	assert.Contains(t, rec.Header().Get("Location"), "state=")

	cookies := rec.Result().Cookies()
	assert.NotEmpty(t, cookies)
	assert.Equal(t, oauthStateCookieName, cookies[0].Name)
}

func TestOAuth2_FullCallbackFlow(t *testing.T) {
	handler, registry := newTestOAuth2Handler(t)

	// Start a login to obtain a state
	rec := httptest.NewRecorder()
	handler.HandleLogin(rec, httptest.NewRequest("GET", "/auth/oauth2/login?callbackUrl=%2Fdashboard", nil))

	stateCookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/auth/oauth2/callback?state="+stateCookie.Value+"&code=auth-code", nil)
	req.AddCookie(stateCookie)

	rec = httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, 1, registry.Count())
}

func TestOAuth2_CallbackStateMismatch(t *testing.T) {
	handler, registry := newTestOAuth2Handler(t)

	rec := httptest.NewRecorder()
	handler.HandleLogin(rec, httptest.NewRequest("GET", "/auth/oauth2/login", nil))

	stateCookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/auth/oauth2/callback?state=tampered&code=auth-code", nil)
	req.AddCookie(stateCookie)

	rec = httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, registry.Count())
}

func TestOAuth2_StateIsSingleUse(t *testing.T) {
	handler, registry := newTestOAuth2Handler(t)

	rec := httptest.NewRecorder()
	handler.HandleLogin(rec, httptest.NewRequest("GET", "/auth/oauth2/login", nil))

	stateCookie := rec.Result().Cookies()[0]

	makeCallback := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/auth/oauth2/callback?state="+stateCookie.Value+"&code=auth-code", nil)
		req.AddCookie(stateCookie)

		rec := httptest.NewRecorder()
		handler.HandleCallback(rec, req)
		return rec
	}

	first := makeCallback()
	assert.Equal(t, http.StatusSeeOther, first.Code)

	second := makeCallback()
	assert.Equal(t, http.StatusBadRequest, second.Code)

	assert.Equal(t, 1, registry.Count())
}

func TestOAuth2_MissingCode(t *testing.T) {
	handler, _ := newTestOAuth2Handler(t)

	rec := httptest.NewRecorder()
	handler.HandleLogin(rec, httptest.NewRequest("GET", "/auth/oauth2/login", nil))

	stateCookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/auth/oauth2/callback?state="+stateCookie.Value, nil)
	req.AddCookie(stateCookie)

	rec = httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewOAuth2Handler_NoProvider(t *testing.T) {
	cfg := &gatepublic.Config{
		Jwt: gatepublic.JwtConfig{HmacSecret: "test-secret"},
	}

	signinHandler, err := NewHandler(cfg, sessions.NewSessionRegistry(nil))
	assert.NoError(t, err)

	_, err = NewOAuth2Handler(cfg, signinHandler)
	assert.Error(t, err)
}
