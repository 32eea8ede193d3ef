// Package apperr defines the error kinds returned by the service layer.
// The HTTP boundary maps each kind to a status code; nothing below it
// knows about transport.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindConflict
	KindEngineFailure
	KindStoreFailure
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindEngineFailure:
		return "engine_failure"
	case KindStoreFailure:
		return "store_failure"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Reasons attached to Unauthenticated and Forbidden errors.
const (
	ReasonMissingToken    = "missing_token"
	ReasonMalformedHeader = "malformed_header"
	ReasonTokenExpired    = "token_expired"
	ReasonTokenInvalid    = "token_invalid"
	ReasonBadCredentials  = "bad_credentials"
	ReasonNotAdmin        = "not_admin"
	ReasonNotOwner        = "not_owner"
	ReasonPreset          = "preset_resource"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Unauthenticated(reason, message string) *Error {
	return &Error{Kind: KindUnauthenticated, Reason: reason, Message: message}
}

func Forbidden(reason, message string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Message: message}
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func RateLimited(message string) *Error {
	return New(KindRateLimited, message)
}

func EngineFailure(err error) *Error {
	return Wrap(KindEngineFailure, "prediction failed", err)
}

func StoreFailure(message string, err error) *Error {
	return Wrap(KindStoreFailure, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
