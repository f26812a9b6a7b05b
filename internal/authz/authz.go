// Package authz maps verified identities to search-time access predicates.
//
// The resolver is a pure mapping from (role, subject) to an AccessContext
// whose predicate restricts which chunk records a search may consider.
// Every path fails closed: an unknown role or a zero-value predicate is an
// error, never an unrestricted search.
package authz

import (
	"errors"
	"fmt"
)

// Sentinel errors for access resolution - fail closed security model.
var (
	// ErrUnknownRole is returned for roles outside the closed set.
	// Indicates a deployment bug; never retried, never defaulted.
	ErrUnknownRole = errors.New("unknown role")

	// ErrInvalidSubject is returned when the subject identifier is empty.
	ErrInvalidSubject = errors.New("invalid subject identifier")

	// ErrInvalidPredicate is returned when a zero-value predicate reaches
	// a consumer. A search without a resolved predicate must not run.
	ErrInvalidPredicate = errors.New("predicate not resolved")
)

// Role is the closed set of caller roles.
type Role int

const (
	// RoleUnknown is the zero value and is never authorized.
	RoleUnknown Role = iota

	// RoleStandard may only retrieve chunks it owns.
	RoleStandard

	// RolePrivileged may retrieve across all owners.
	RolePrivileged
)

// ParseRole parses a wire-format role name. Unrecognized values fail
// closed with ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleStandard, nil
	case "admin":
		return RolePrivileged, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// String returns the wire-format role name.
func (r Role) String() string {
	switch r {
	case RoleStandard:
		return "user"
	case RolePrivileged:
		return "admin"
	default:
		return "unknown"
	}
}

// Principal is a verified identity supplied by the external auth layer.
// It is trusted as-is; this package performs no verification.
type Principal struct {
	SubjectID string
	Role      Role
}

// predicateScope discriminates predicate variants. The zero value is
// deliberately invalid so an unresolved predicate cannot match anything.
type predicateScope int

const (
	scopeInvalid predicateScope = iota
	scopeOwner
	scopeAll
)

// Predicate is a store-evaluated condition over chunk record fields.
// The zero value is invalid; construct via OwnerOnly or Unrestricted.
type Predicate struct {
	scope   predicateScope
	ownerID string
}

// OwnerOnly returns a predicate matching only records owned by ownerID.
func OwnerOnly(ownerID string) Predicate {
	return Predicate{scope: scopeOwner, ownerID: ownerID}
}

// Unrestricted returns a predicate matching all records.
func Unrestricted() Predicate {
	return Predicate{scope: scopeAll}
}

// Restricted reports whether the predicate constrains ownership.
func (p Predicate) Restricted() bool {
	return p.scope == scopeOwner
}

// Conditions returns the filter conditions a store must evaluate during
// candidate selection. An empty map means match-all. A zero-value
// predicate returns ErrInvalidPredicate so callers cannot accidentally
// run an unscoped search.
func (p Predicate) Conditions() (map[string]string, error) {
	switch p.scope {
	case scopeOwner:
		return map[string]string{"owner_id": p.ownerID}, nil
	case scopeAll:
		return map[string]string{}, nil
	default:
		return nil, ErrInvalidPredicate
	}
}

// AccessContext is the per-request authorization state: the verified
// role and subject plus the resolved predicate. It is constructed fresh
// per request and never persisted or cached.
type AccessContext struct {
	Role      Role
	SubjectID string
	predicate Predicate
}

// Predicate returns the resolved search predicate.
func (a AccessContext) Predicate() Predicate {
	return a.predicate
}

// Resolve maps a verified (role, subject) pair to an AccessContext.
//
// The mapping is total over the closed role set:
//
//	standard   => owner_id == subject
//	privileged => no constraint
//
// Any other role value fails with ErrUnknownRole. Pure function, no I/O.
func Resolve(role Role, subjectID string) (AccessContext, error) {
	if subjectID == "" {
		return AccessContext{}, ErrInvalidSubject
	}
	switch role {
	case RoleStandard:
		return AccessContext{
			Role:      role,
			SubjectID: subjectID,
			predicate: OwnerOnly(subjectID),
		}, nil
	case RolePrivileged:
		return AccessContext{
			Role:      role,
			SubjectID: subjectID,
			predicate: Unrestricted(),
		}, nil
	default:
		return AccessContext{}, fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
}
