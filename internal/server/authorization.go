package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/edupoints/internal/authorization"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type       ActorType
	ID         string
	OnBehalfOf string
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorUser:
		return fmt.Sprintf("user:%s", a.ID)
	case ActorSystem:
		return authorization.ActorSystem
	default:
		return ""
	}
}

// ledgerActorID is the id recorded on ledger entries written for this
// actor, or empty when the caller is anonymous automation.
func (a Actor) ledgerActorID() string {
	if a.Type == ActorUser {
		return a.ID
	}
	return a.OnBehalfOf
}

func (s *Server) authorizeScopeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := scopeFromContext(c)
		if !ok {
			AbortWithError(c, invalidRequestError())
			return
		}
		if err := s.authorizeWithContext(c, scope.String(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeGlobalAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, authorization.GlobalDomain, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, domain string, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor.subject(), domain, strings.TrimSpace(object), strings.TrimSpace(action))
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	if c == nil {
		return Actor{}, false
	}
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	if !ok || actor.subject() == "" {
		return Actor{}, false
	}
	return actor, true
}
