package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
)

type roleRequest struct {
	Actor  string `json:"actor"`
	Role   string `json:"role"`
	Domain string `json:"domain"`
}

func (s *Server) AssignRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authzSvc.AssignRole(c.Request.Context(), strings.TrimSpace(req.Actor), req.Role, req.Domain); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Event{
		Action:     auditdomain.ActionRoleAssign,
		TargetType: auditdomain.TargetActor,
		TargetID:   strings.TrimSpace(req.Actor),
		Metadata:   map[string]any{"role": strings.TrimSpace(req.Role), "domain": strings.TrimSpace(req.Domain)},
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) RevokeRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authzSvc.RevokeRole(c.Request.Context(), strings.TrimSpace(req.Actor), req.Role, req.Domain); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Event{
		Action:     auditdomain.ActionRoleRevoke,
		TargetType: auditdomain.TargetActor,
		TargetID:   strings.TrimSpace(req.Actor),
		Metadata:   map[string]any{"role": strings.TrimSpace(req.Role), "domain": strings.TrimSpace(req.Domain)},
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
