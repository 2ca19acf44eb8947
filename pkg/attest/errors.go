package attest

import (
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindMalformedToken ErrorKind = iota + 1
	KindMissingKey
	KindInvalidKey
	KindSignatureInvalid
	KindMissingNonceClaim
	KindNonceInvalidOrReused
	KindChallengeFetchFailed
	KindSubmissionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedToken:
		return "malformed_token"
	case KindMissingKey:
		return "missing_key"
	case KindInvalidKey:
		return "invalid_key"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindMissingNonceClaim:
		return "missing_nonce_claim"
	case KindNonceInvalidOrReused:
		return "nonce_invalid_or_reused"
	case KindChallengeFetchFailed:
		return "challenge_fetch_failed"
	case KindSubmissionFailed:
		return "submission_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is returned by Verify and Prove. Errors compare equal under
// errors.Is when their kinds match, so the Err* values can be used as
// targets.
type Error struct {
	Kind        ErrorKind
	Description string
	Err         error
}

func newError(kind ErrorKind, description string, err error) *Error {
	return &Error{Kind: kind, Description: description, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Description, e.Err)
	}
	return e.Description
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// HttpStatus is the status reported to the client. All verification
// failures are client errors and differ only by message.
func (e *Error) HttpStatus() int {
	switch e.Kind {
	case KindChallengeFetchFailed, KindSubmissionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

var (
	ErrMalformedToken       = &Error{Kind: KindMalformedToken, Description: "malformed token"}
	ErrMissingKey           = &Error{Kind: KindMissingKey, Description: "JWK missing in header"}
	ErrInvalidKey           = &Error{Kind: KindInvalidKey, Description: "invalid JWK"}
	ErrSignatureInvalid     = &Error{Kind: KindSignatureInvalid, Description: "invalid signature"}
	ErrMissingNonceClaim    = &Error{Kind: KindMissingNonceClaim, Description: "nonce not found in claims"}
	ErrNonceInvalidOrReused = &Error{Kind: KindNonceInvalidOrReused, Description: "invalid or reused nonce"}
	ErrChallengeFetchFailed = &Error{Kind: KindChallengeFetchFailed, Description: "unable to fetch challenge"}
	ErrSubmissionFailed     = &Error{Kind: KindSubmissionFailed, Description: "unable to submit token"}
)
