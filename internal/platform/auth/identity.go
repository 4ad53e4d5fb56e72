package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/repairdesk/api/internal/platform/requestctx"
)

// Shop roles carried in the Firebase custom claim. Technicians run diagnosis and repairs, cashiers
// take payments and resolve refunds. Admins pass every role gate.
const (
	RoleTechnician = "technician"
	RoleCashier    = "cashier"
	RoleAdmin      = "admin"
)

var shopRoles = []string{RoleAdmin, RoleCashier, RoleTechnician}

// Identity is the staff member behind a verified Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// NewIdentity keeps only known shop roles, lower-cased, deduplicated and sorted.
func NewIdentity(uid, email string, roles ...string) *Identity {
	kept := make([]string, 0, len(roles))
	for _, role := range roles {
		role = normaliseRole(role)
		if slices.Contains(shopRoles, role) && !slices.Contains(kept, role) {
			kept = append(kept, role)
		}
	}
	slices.Sort(kept)
	return &Identity{UID: strings.TrimSpace(uid), Email: strings.TrimSpace(email), Roles: kept}
}

// Holds reports whether the identity may act as role.
func (i *Identity) Holds(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && (slices.Contains(i.Roles, role) || slices.Contains(i.Roles, RoleAdmin))
}

// HoldsAny reports whether the identity may act as at least one of roles.
func (i *Identity) HoldsAny(roles ...string) bool {
	return slices.ContainsFunc(roles, i.Holds)
}

type identityKey struct{}

// WithIdentity stores identity on ctx and registers it as the request actor.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, identity)
	if identity == nil || identity.UID == "" {
		return ctx
	}
	return requestctx.WithActor(ctx, requestctx.Actor{ID: identity.UID, Kind: requestctx.ActorStaff, Email: identity.Email})
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
