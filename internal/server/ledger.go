package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

type reverseRequest struct {
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

func (s *Server) ReverseEntry(c *gin.Context) {
	entryID := strings.TrimSpace(c.Param("id"))
	if entryID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req reverseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	entry, err := s.quotaSvc.Reverse(c.Request.Context(), quotadomain.ReverseRequest{
		EntryID: entryID,
		ActorID: s.ledgerActor(c, req.ActorID),
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.Event{
		Scope:      quotadomain.ScopeRef{Type: entry.ScopeType, ID: entry.ScopeID}.String(),
		Action:     auditdomain.ActionLedgerReverse,
		TargetType: auditdomain.TargetLedgerEntry,
		TargetID:   entryID,
		Metadata: map[string]any{
			"reversal_id":    entry.ID.String(),
			"points_charged": entry.PointsCharged,
			"note":           entry.Note,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
