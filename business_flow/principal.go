package businessflow

import (
	"context"
	"slices"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
)

// Permissions carried by a principal's token
const (
	PermissionAll             = "*"
	PermissionSearchesRead    = "saved_searches:read"
	PermissionSearchesWrite   = "saved_searches:write"
	PermissionAudiencesRead   = "audiences:read"
	PermissionAudiencesWrite  = "audiences:write"
	PermissionAdsAccountsRead = "ads_accounts:read"
	PermissionAdsAccountsLink = "ads_accounts:write"
	PermissionPropertiesRead  = "properties:read"
)

// DefaultPermissions is granted to a regular user
var DefaultPermissions = []string{
	PermissionSearchesRead,
	PermissionSearchesWrite,
	PermissionAudiencesRead,
	PermissionAudiencesWrite,
	PermissionAdsAccountsRead,
	PermissionAdsAccountsLink,
	PermissionPropertiesRead,
}

// Principal is the authenticated caller. Flows read it from the context.
type Principal struct {
	UserID      uuid.UUID
	Permissions []string
}

// Can reports whether the principal holds permission
func (p Principal) Can(permission string) bool {
	return slices.Contains(p.Permissions, PermissionAll) || slices.Contains(p.Permissions, permission)
}

// Owns reports whether ownerID is the principal
func (p Principal) Owns(ownerID uuid.UUID) bool {
	return p.UserID != uuid.Nil && p.UserID == ownerID
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, utils.PrincipalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(utils.PrincipalKey).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

// requirePrincipal returns the caller if it holds permission
func requirePrincipal(ctx context.Context, permission string) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if !p.Can(permission) {
		return Principal{}, ErrPermissionDenied
	}
	return p, nil
}
