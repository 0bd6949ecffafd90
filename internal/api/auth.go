// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Role is the caller's privilege level for migration operations.
type Role int

const (
	RoleNone Role = iota
	RoleAdmin
	RoleSuperAdmin
)

const (
	contextKeyRole  = "fieldmigrate.role"
	contextKeyActor = "fieldmigrate.actor"

	headerRole  = "X-User-Role"
	headerActor = "X-User-Id"
)

// RoleResolver derives the caller's role and identity from the request. The
// surrounding service plugs in its real authentication here; the default
// trusts gateway-set headers.
type RoleResolver func(c *gin.Context) (Role, string)

// HeaderRoleResolver reads the role and actor from trusted proxy headers.
func HeaderRoleResolver(c *gin.Context) (Role, string) {
	actor := c.GetHeader(headerActor)
	if actor == "" {
		actor = "anonymous"
	}

	switch c.GetHeader(headerRole) {
	case "super_admin", "highest":
		return RoleSuperAdmin, actor
	case "admin":
		return RoleAdmin, actor
	}
	return RoleNone, actor
}

// requireRole authenticates the request and rejects callers below the minimum
// role.
func requireRole(resolve RoleResolver, minimum Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, actor := resolve(c)
		if role < minimum {
			c.AbortWithStatusJSON(http.StatusForbidden, errorEnvelope{
				Error: errorBody{
					Code:    CodeForbidden,
					Message: "insufficient privileges for this operation",
				},
			})
			return
		}
		c.Set(contextKeyRole, role)
		c.Set(contextKeyActor, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	if v, ok := c.Get(contextKeyActor); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "anonymous"
}
