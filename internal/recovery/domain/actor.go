package domain

import "context"

// Role distinguishes the two caller classes every mutating operation
// must authorize against.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor is the resolved caller identity supplied by the authorization
// collaborator.
type Actor struct {
	ID   string `json:"id"` // customer ID for customers, operator ID for admins
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Owns reports whether the actor is the owning customer.
func (a Actor) Owns(customerID string) bool {
	return a.Role == RoleCustomer && a.ID == customerID
}

// CanAccessCustomer reports whether the actor may mutate entities that
// belong to customerID.
func (a Actor) CanAccessCustomer(customerID string) bool {
	return a.IsAdmin() || a.Owns(customerID)
}

type actorContextKey struct{}

// WithActor stores the resolved actor on the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext retrieves the resolved actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
