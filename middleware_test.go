package gatekeeper

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jamesread/httpgatekeeper/gatepublic"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_ContinuePassesThrough(t *testing.T) {
	ctx := newTestContext(t, &countingVerifier{token: &gatepublic.Token{Subject: "alice"}})

	handler := ctx.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/dashboard", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddleware_RedirectsToSignInWithCallback(t *testing.T) {
	ctx := newTestContext(t, &countingVerifier{})

	handler := ctx.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "https://example.com/dashboard", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	assert.NoError(t, err)
	assert.Equal(t, "/auth/signin", location.Path)
	assert.Equal(t, "https://example.com/dashboard", location.Query().Get("callbackUrl"))
}

func TestMiddleware_RedirectsToErrorOnBrokenCredential(t *testing.T) {
	ctx := newTestContext(t, &countingVerifier{panics: true})

	handler := ctx.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/dashboard", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	assert.NoError(t, err)
	assert.Equal(t, "/auth/error", location.Path)
	assert.Equal(t, gatepublic.ErrCodeJwtSession, location.Query().Get("error"))
}

func TestMiddleware_ExcludedPathsBypassGatekeeper(t *testing.T) {
	verifier := &countingVerifier{}
	ctx := newTestContext(t, verifier)

	handler := ctx.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/_next/chunk.js", "/static/style.css", "/favicon.ico", "/public/logo.png"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}

	assert.Equal(t, 0, verifier.calls)
}

func TestMiddleware_HealthCheckAlwaysReachable(t *testing.T) {
	ctx := newTestContext(t, &countingVerifier{err: errors.New("verifier should never run here")})

	handler := ctx.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health-check", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
