// Package actor identifies the user or system performing an action.
//
// The ledger does not authenticate anyone. The gateway resolves the session
// and forwards the actor; every write records it verbatim for audit.
package actor

import (
	"context"
	"fmt"
	"strings"
)

// Roles known to the pharmacy.
const (
	RoleAdmin       = "admin"
	RolePharmacist  = "pharmacist"
	RoleCoordinator = "coordinator"
	RoleReception   = "reception"
	RoleSystem      = "system"
)

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	// DisplayName is the name shown in audit trails
	DisplayName string `json:"display_name"`

	// Role is the role resolved by the auth layer
	Role string `json:"role"`
}

// New builds an actor, normalizing the role to lower case.
func New(id, displayName, role string) *Actor {
	return &Actor{
		ID:          strings.TrimSpace(id),
		DisplayName: strings.TrimSpace(displayName),
		Role:        strings.ToLower(strings.TrimSpace(role)),
	}
}

// Valid reports whether the actor carries an identity and a role.
func (a *Actor) Valid() bool {
	return a != nil && a.ID != "" && a.Role != ""
}

// Name returns the display name, falling back to the ID
func (a *Actor) Name() string {
	if a == nil {
		return ""
	}
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s, %s)", a.Name(), a.ID, a.Role)
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// MustFromContext retrieves the Actor from the context.
// Panics if no actor is present. Use only when actor is guaranteed to exist.
func MustFromContext(ctx context.Context) *Actor {
	a := FromContext(ctx)
	if a == nil {
		panic("actor not found in context")
	}
	return a
}

const systemID = "00000000-0000-0000-0000-000000000000"

// SystemActor returns an Actor representing the system itself.
// Use this for migrations, seeding and other system-initiated operations.
func SystemActor() *Actor {
	return &Actor{
		ID:          systemID,
		DisplayName: "System",
		Role:        RoleSystem,
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == systemID
}
