package gatekeeper

import (
	"net/http"
	"net/url"

	"github.com/jamesread/httpgatekeeper/gatepublic"
)

// Middleware wraps a handler with the gatekeeper decision flow. It runs
// before route dispatch for the entire protected surface, except for paths
// in the configured exclusion set, which bypass the gatekeeper entirely.
func (ctx *GatekeeperContext) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsExcluded(ctx.Config, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		outcome := ctx.Evaluate(r)

		switch outcome.Kind {
		case gatepublic.KindContinue:
			next.ServeHTTP(w, r)
		case gatepublic.KindRedirectToSignIn:
			http.Redirect(w, r, signInRedirectURL(ctx.Config, outcome.CallbackURL), http.StatusTemporaryRedirect)
		case gatepublic.KindRedirectToError:
			http.Redirect(w, r, errorRedirectURL(ctx.Config, outcome.ErrorCode), http.StatusTemporaryRedirect)
		}
	})
}

// signInRedirectURL builds the sign-in location, preserving the original URL
// as a query parameter so the sign-in flow can return the user afterwards.
func signInRedirectURL(cfg *gatepublic.Config, callbackURL string) string {
	query := url.Values{}
	query.Set("callbackUrl", callbackURL)

	return cfg.GetSignInPath() + "?" + query.Encode()
}

func errorRedirectURL(cfg *gatepublic.Config, code string) string {
	query := url.Values{}
	query.Set("error", code)

	return cfg.GetErrorPath() + "?" + query.Encode()
}
