package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
)

func (s *Server) GetBalance(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.quotaSvc.GetBalance(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListLedger(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var query struct {
		pagination.Pagination
		Kind string `form:"kind"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.quotaSvc.ListLedger(c.Request.Context(), quotadomain.ListLedgerRequest{
		Scope:     scope,
		Kind:      strings.TrimSpace(query.Kind),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Entries,
		"page_info": resp.PageInfo,
	})
}

type topUpRequest struct {
	ActorID string `json:"actor_id"`
	Points  int64  `json:"points"`
	Note    string `json:"note"`
}

func (s *Server) TopUp(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.quotaSvc.TopUp(c.Request.Context(), quotadomain.TopUpRequest{
		Scope:   scope,
		ActorID: s.ledgerActor(c, req.ActorID),
		Points:  req.Points,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.Event{
		Scope:      scope.String(),
		Action:     auditdomain.ActionScopeTopUp,
		TargetType: auditdomain.TargetScope,
		TargetID:   scope.String(),
		Metadata: map[string]any{
			"entry_id":       entry.ID.String(),
			"points":         req.Points,
			"capacity_after": entry.CapacityAfter,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type provisionRequest struct {
	Capacity  int64  `json:"capacity"`
	Active    *bool  `json:"active"`
	PeriodEnd string `json:"period_end"`
	ActorID   string `json:"actor_id"`
}

// ProvisionScope creates or replaces the allotment of a scope.
func (s *Server) ProvisionScope(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	periodEnd, err := parseOptionalTime(req.PeriodEnd, true)
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_period_end", "period_end must be RFC3339 or YYYY-MM-DD"))
		return
	}

	view, err := s.quotaSvc.Provision(c.Request.Context(), quotadomain.ProvisionRequest{
		Scope:     scope,
		Capacity:  req.Capacity,
		Active:    req.Active,
		PeriodEnd: periodEnd,
		ActorID:   s.ledgerActor(c, req.ActorID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	metadata := map[string]any{"capacity": req.Capacity}
	if req.Active != nil {
		metadata["active"] = *req.Active
	}
	if periodEnd != nil {
		metadata["period_end"] = periodEnd.Format(time.RFC3339)
	}
	s.recordAudit(c, auditdomain.Event{
		Scope:      scope.String(),
		Action:     auditdomain.ActionScopeProvision,
		TargetType: auditdomain.TargetScope,
		TargetID:   scope.String(),
		Metadata:   metadata,
	})

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// ledgerActor prefers an explicit actor in the body and falls back to the
// authenticated caller.
func (s *Server) ledgerActor(c *gin.Context, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return ""
	}
	return actor.ledgerActorID()
}
