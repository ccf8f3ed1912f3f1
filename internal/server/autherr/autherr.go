// Package autherr defines the tagged error kinds produced by the auth flows.
//
// Every flow returns either nil or an *Error whose Kind callers can switch on
// exhaustively. Infrastructure failures are reported as KindInternal and never
// as an authentication failure.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies a flow failure.
type Kind int

const (
	// KindInternal is an unexpected persistence or verifier failure.
	KindInternal Kind = iota
	// KindAuthentication covers bad credentials, blocked accounts and
	// rejected federated assertions. The message never reveals which.
	KindAuthentication
	// KindLocked is an authentication failure caused by an active lockout.
	KindLocked
	// KindTokenExpired means a well-formed token or its session has expired.
	KindTokenExpired
	// KindInvalidToken means the token is malformed, forged or of the wrong type.
	KindInvalidToken
	// KindUnauthorized means the token verified but its session is revoked or absent.
	KindUnauthorized
	// KindConflict is a duplicate registration.
	KindConflict
	// KindInvalidArgument is input the flow cannot process at all.
	KindInvalidArgument
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindAuthentication:  "authentication",
	KindLocked:          "locked",
	KindTokenExpired:    "token_expired",
	KindInvalidToken:    "invalid_token",
	KindUnauthorized:    "unauthorized",
	KindConflict:        "conflict",
	KindInvalidArgument: "invalid_argument",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MsgInvalidCredentials is the single message shared by every non-lock
// authentication failure.
const MsgInvalidCredentials = "invalid credentials"

// Error is the error type returned by the auth flows.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterMinutes is set for KindLocked.
	RetryAfterMinutes int
	// Err is the underlying cause, kept for logs; never shown to callers.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind. A locked error also matches ErrAuthentication.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindAuthentication && e.Kind == KindLocked
}

// Sentinels for errors.Is.
var (
	ErrInternal        = &Error{Kind: KindInternal, Message: "internal error"}
	ErrAuthentication  = &Error{Kind: KindAuthentication, Message: MsgInvalidCredentials}
	ErrLocked          = &Error{Kind: KindLocked, Message: "account locked"}
	ErrTokenExpired    = &Error{Kind: KindTokenExpired, Message: "token expired"}
	ErrInvalidToken    = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Message: "session revoked"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "email already registered"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
)

// Authentication returns the generic credential failure, keeping cause for logs.
func Authentication(cause error) *Error {
	return &Error{Kind: KindAuthentication, Message: MsgInvalidCredentials, Err: cause}
}

// Locked reports an active lockout with the minutes left before retrying.
func Locked(minutes int) *Error {
	if minutes < 1 {
		minutes = 1
	}
	return &Error{
		Kind:              KindLocked,
		Message:           fmt.Sprintf("account locked, try again in %d minute(s)", minutes),
		RetryAfterMinutes: minutes,
	}
}

func TokenExpired(cause error) *Error {
	return &Error{Kind: KindTokenExpired, Message: "token expired", Err: cause}
}

func InvalidToken(cause error) *Error {
	return &Error{Kind: KindInvalidToken, Message: "invalid token", Err: cause}
}

func Unauthorized(cause error) *Error {
	return &Error{Kind: KindUnauthorized, Message: "session revoked", Err: cause}
}

func Conflict() *Error {
	return &Error{Kind: KindConflict, Message: "email already registered"}
}

func InvalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

// Internal wraps an infrastructure failure.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: fmt.Errorf("%s: %w", op, cause)}
}

// KindOf extracts the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
