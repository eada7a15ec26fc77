package gatepublic

import (
	"context"
	"net/http"
)

// EvalContext carries everything a token verifier may consult for one request.
// It is immutable for the duration of a single gatekeeper evaluation.
type EvalContext struct {
	Config  *Config
	Request *http.Request
	Context context.Context // Request context for cancellation and timeouts
}

// Token is the opaque result of a successful verification. The gatekeeper
// only cares about its presence; the fields exist for downstream handlers.
type Token struct {
	Subject string
	Claims  map[string]any
}

// TokenVerifier validates the session credential on a request.
//
// Verify returns (nil, nil) when the request simply carries no credential,
// a Token when the credential is valid, and an error when a credential was
// present but could not be verified.
type TokenVerifier interface {
	Verify(evalCtx *EvalContext) (*Token, error)
}
