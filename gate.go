package gatekeeper

import (
	"fmt"
	"net/http"

	"github.com/jamesread/httpgatekeeper/gatepublic"
	log "github.com/sirupsen/logrus"
)

// requestURL rebuilds the absolute URL of a request so the sign-in flow can
// return the user to their intended destination after success.
func requestURL(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + req.Host + req.URL.RequestURI()
}

// runVerifierWithPanicRecovery runs a verifier, converting a panic into a
// verification error so nothing escapes Evaluate.
func runVerifierWithPanicRecovery(verifier gatepublic.TokenVerifier, evalCtx *gatepublic.EvalContext) (token *gatepublic.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"panic": r,
				"path":  evalCtx.Request.URL.Path,
			}).Errorf("Panic recovered in token verifier")

			token = nil
			err = fmt.Errorf("panic in token verifier: %v", r)
		}
	}()

	return verifier.Verify(evalCtx)
}

// runVerifierChain consults verifiers in order. The first token wins; the
// first verification error aborts the chain. (nil, nil) means the request
// carries no credential at all.
func (ctx *GatekeeperContext) runVerifierChain(req *http.Request) (*gatepublic.Token, error) {
	evalCtx := &gatepublic.EvalContext{
		Config:  ctx.Config,
		Request: req,
		Context: req.Context(),
	}

	ctx.chainMu.RLock()
	chain := make([]gatepublic.TokenVerifier, len(ctx.chain))
	copy(chain, ctx.chain)
	ctx.chainMu.RUnlock()

	for _, verifier := range chain {
		token, err := runVerifierWithPanicRecovery(verifier, evalCtx)
		if err != nil {
			return nil, err
		}

		if token != nil {
			return token, nil
		}
	}

	return nil, nil
}

// Evaluate produces exactly one Outcome for the request. It is stateless
// between invocations; only the request and the verifier result are read.
func (ctx *GatekeeperContext) Evaluate(req *http.Request) gatepublic.Outcome {
	path := req.URL.Path

	// Public paths and assets never trigger auth I/O.
	if IsPublic(ctx.Config, path) {
		log.WithFields(log.Fields{
			"path": path,
		}).Debugf("Public path, skipping verification")

		return gatepublic.Continue()
	}

	token, err := ctx.runVerifierChain(req)

	if err != nil {
		// A credential was present but corrupt or tampered with. This is
		// unexpected, unlike a plain absence of login, so it is logged.
		log.WithFields(log.Fields{
			"path":  path,
			"error": err,
		}).Errorf("Session token verification failed")

		return gatepublic.RedirectToError(gatepublic.ErrCodeJwtSession)
	}

	if token == nil {
		log.WithFields(log.Fields{
			"path": path,
		}).Debugf("Unauthenticated request, redirecting to sign-in")

		return gatepublic.RedirectToSignIn(requestURL(req))
	}

	log.WithFields(log.Fields{
		"path":    path,
		"subject": token.Subject,
	}).Debugf("Authenticated request")

	return gatepublic.Continue()
}
