package httpkit

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the authenticated caller as seen by handlers.
type Identity interface {
	UserID() uuid.UUID
	// TenantID is the organization the token is scoped to, nil for global tokens.
	TenantID() *uuid.UUID
	HasRole(role string) bool
	IsAuthenticated() bool
}

type identity struct {
	claims        AccessClaims
	authenticated bool
}

func (i identity) UserID() uuid.UUID        { return i.claims.UserID }
func (i identity) TenantID() *uuid.UUID     { return i.claims.TenantID }
func (i identity) HasRole(role string) bool { return slices.Contains(i.claims.Roles, role) }
func (i identity) IsAuthenticated() bool    { return i.authenticated }

// GetIdentity reads what AuthRequired stored. Without it the identity is
// unauthenticated and has no roles.
func GetIdentity(c *gin.Context) Identity {
	uid, ok := c.Value(ContextUserIDKey).(uuid.UUID)
	if !ok {
		return identity{}
	}

	claims := AccessClaims{UserID: uid}
	claims.Roles, _ = c.Value(ContextRolesKey).([]string)
	if tid, ok := c.Value(ContextTenantIDKey).(uuid.UUID); ok {
		claims.TenantID = &tid
	}
	return identity{claims: claims, authenticated: true}
}

// MustGetIdentity aborts with 401 and returns nil when the caller is anonymous.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return nil
	}
	return id
}
