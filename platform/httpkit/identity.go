package httpkit

import (
	"slices"

	"ats_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// Identity is the authenticated actor as seen by handlers, independent of gin.
type Identity interface {
	// Actor is the JWT subject; it is recorded on every stage event.
	Actor() string
	Roles() []string
	HasRole(role string) bool
	IsAuthenticated() bool
}

type identity struct {
	actor         string
	roles         []string
	authenticated bool
}

func (i *identity) Actor() string            { return i.actor }
func (i *identity) Roles() []string          { return i.roles }
func (i *identity) HasRole(role string) bool { return slices.Contains(i.roles, role) }
func (i *identity) IsAuthenticated() bool    { return i.authenticated }

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if actor info is not present.
func GetIdentity(c *gin.Context) Identity {
	actor := c.GetString(ContextActorKey)
	if actor == "" {
		return &identity{authenticated: false}
	}

	var roleList []string
	if roles, ok := c.Get(ContextRolesKey); ok {
		roleList, _ = roles.([]string)
	}

	return &identity{actor: actor, roles: roleList, authenticated: true}
}

// MustGetIdentity extracts the Identity from a Gin context.
// If the actor is not authenticated, it aborts with 401 Unauthorized and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		HandleError(c, apperr.Unauthorized("unauthorized"))
		c.Abort()
		return nil
	}
	return id
}
