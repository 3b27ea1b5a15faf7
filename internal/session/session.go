// ABOUTME: Session store types: identity, role, lifecycle state and provider contracts
// ABOUTME: The Service in service.go owns the current identity and its resolved role

package session

import (
	"context"
	"errors"

	"github.com/2389/coven-inbox/internal/store"
)

var (
	// ErrSessionUnavailable is returned when nobody is signed in.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrRoleResolutionFailed wraps lookup failures. It is logged, never returned:
	// the role falls back to RoleUser.
	ErrRoleResolutionFailed = errors.New("role resolution failed")
)

// Role is the access role of the signed-in identity.
type Role = store.RoleName

const (
	// RoleUnknown is reported while no role has been resolved.
	RoleUnknown Role = ""
	RoleUser         = store.RoleUser
	RoleAdmin        = store.RoleAdmin
)

// Identity is the authenticated user. The role is not part of it.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// State is the lifecycle position of the session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateRoleResolving
	StateReady
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateRoleResolving:
		return "role_resolving"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// TransitionKind names a provider notification.
type TransitionKind string

const (
	SignedIn       TransitionKind = "signed_in"
	SignedOut      TransitionKind = "signed_out"
	TokenRefreshed TransitionKind = "token_refreshed"
)

// Transition is delivered by a Provider when the session changes.
// Identity is nil for SignedOut.
type Transition struct {
	Kind     TransitionKind
	Identity *Identity
}

// Provider is the external identity provider.
type Provider interface {
	// CurrentSession returns the signed-in identity or nil.
	CurrentSession(ctx context.Context) (*Identity, error)
	// OnSessionChange registers fn and returns a function that unregisters it.
	OnSessionChange(fn func(Transition)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// RoleLookup reads the single role row of a user.
type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (store.RoleName, error)
}

// Snapshot is a consistent view of the session at one generation.
type Snapshot struct {
	State      State
	Identity   *Identity
	Role       Role
	Generation uint64
}

// Authenticated reports whether an identity is present.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}
