package gatepublic

// OutcomeKind enumerates the closed set of gatekeeper decisions.
type OutcomeKind int

const (
	KindContinue OutcomeKind = iota
	KindRedirectToSignIn
	KindRedirectToError
)

// ErrCodeJwtSession is reported when a credential was present but could not
// be verified (malformed token, bad signature, verifier I/O failure).
const ErrCodeJwtSession = "JWT_SESSION_ERROR"

// Outcome is the gatekeeper's decision for one request. Exactly one Outcome
// is produced per evaluation and it is never persisted.
type Outcome struct {
	Kind OutcomeKind

	// CallbackURL is the original request URL, set only for KindRedirectToSignIn.
	CallbackURL string

	// ErrorCode is set only for KindRedirectToError.
	ErrorCode string
}

func Continue() Outcome {
	return Outcome{Kind: KindContinue}
}

func RedirectToSignIn(callbackURL string) Outcome {
	return Outcome{Kind: KindRedirectToSignIn, CallbackURL: callbackURL}
}

func RedirectToError(code string) Outcome {
	return Outcome{Kind: KindRedirectToError, ErrorCode: code}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindContinue:
		return "continue"
	case KindRedirectToSignIn:
		return "redirect-to-signin"
	case KindRedirectToError:
		return "redirect-to-error"
	}
	return "unknown"
}
