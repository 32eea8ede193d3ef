// Package policy decides whether a caller may perform an operation. It is a
// pure function of the caller's claims and facts about the target resource.
package policy

import (
	"errors"

	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/repository"
	"gopkg.in/guregu/null.v3"
)

// Subject is the outcome of authenticating a request: either claims, or the
// error that prevented them. A request without credentials has neither.
type Subject struct {
	Claims *auth.Claims
	Err    error
}

func Anonymous() Subject {
	return Subject{}
}

func FromClaims(c *auth.Claims) Subject {
	return Subject{Claims: c}
}

func (s Subject) Authenticated() bool {
	return s.Claims != nil && s.Err == nil
}

func (s Subject) IsAdmin() bool {
	return s.Authenticated() && s.Claims.IsAdmin
}

// UserID is the caller's id, or null for anonymous or unauthenticated callers.
func (s Subject) UserID() null.Int {
	if !s.Authenticated() {
		return null.Int{}
	}
	return null.IntFrom(s.Claims.UserID)
}

type kind int

const (
	requireAuth kind = iota
	requireAdmin
	requireOwnerOrAdmin
	optionalAuth
)

type Policy struct {
	kind  kind
	owner null.Int
}

func RequireAuth() Policy {
	return Policy{kind: requireAuth}
}

func RequireAdmin() Policy {
	return Policy{kind: requireAdmin}
}

// RequireOwnerOrAdmin allows the admin or the user whose id equals owner.
// A null owner can only be satisfied by an admin.
func RequireOwnerOrAdmin(owner null.Int) Policy {
	return Policy{kind: requireOwnerOrAdmin, owner: owner}
}

func OptionalAuth() Policy {
	return Policy{kind: optionalAuth}
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into the matching apperr kind: Unauthenticated when
// the caller has no usable token, Forbidden when the token lacks rights.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case apperr.ReasonNotAdmin:
		return apperr.Forbidden(d.Reason, "admin privileges required")
	case apperr.ReasonNotOwner:
		return apperr.Forbidden(d.Reason, "not allowed to access this resource")
	case apperr.ReasonMissingToken:
		return apperr.Unauthenticated(d.Reason, "authentication required")
	case apperr.ReasonMalformedHeader:
		return apperr.Unauthenticated(d.Reason, "invalid authorization header")
	case apperr.ReasonTokenExpired:
		return apperr.Unauthenticated(d.Reason, "token has expired")
	default:
		return apperr.Unauthenticated(apperr.ReasonTokenInvalid, "invalid token")
	}
}

func Authorize(s Subject, p Policy) Decision {
	if p.kind == optionalAuth {
		return allow()
	}

	if !s.Authenticated() {
		return deny(authFailureReason(s.Err))
	}

	switch p.kind {
	case requireAdmin:
		if !s.Claims.IsAdmin {
			return deny(apperr.ReasonNotAdmin)
		}
	case requireOwnerOrAdmin:
		if s.Claims.IsAdmin {
			return allow()
		}
		if !p.owner.Valid || p.owner.Int64 != s.Claims.UserID {
			return deny(apperr.ReasonNotOwner)
		}
	}
	return allow()
}

func authFailureReason(err error) string {
	switch {
	case err == nil, errors.Is(err, auth.ErrMissingToken):
		return apperr.ReasonMissingToken
	case errors.Is(err, auth.ErrMalformedHeader):
		return apperr.ReasonMalformedHeader
	case errors.Is(err, auth.ErrTokenExpired):
		return apperr.ReasonTokenExpired
	default:
		return apperr.ReasonTokenInvalid
	}
}

// Check is Authorize followed by Decision.Err.
func Check(s Subject, p Policy) error {
	return Authorize(s, p).Err()
}

// TaskScope returns the task rows visible to s in list and statistics reads:
// every task for admins, the caller's own tasks for users, and anonymous
// tasks for callers without a valid token.
func TaskScope(s Subject) repository.Scope {
	if s.IsAdmin() {
		return repository.Scope{All: true}
	}
	return repository.Scope{UserID: s.UserID()}
}
