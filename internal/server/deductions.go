package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

func (s *Server) Deduct(c *gin.Context) {
	event, ok := bindUsageEvent(c)
	if !ok {
		return
	}

	result, err := s.quotaSvc.Deduct(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("admission_outcome", string(result.Outcome))

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// CheckAdmission answers without charging.
func (s *Server) CheckAdmission(c *gin.Context) {
	event, ok := bindUsageEvent(c)
	if !ok {
		return
	}

	decision, err := s.quotaSvc.CheckAdmission(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("admission_outcome", string(decision.Outcome))

	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func bindUsageEvent(c *gin.Context) (quotadomain.UsageEvent, bool) {
	var req quotadomain.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return quotadomain.UsageEvent{}, false
	}

	event, err := quotadomain.ParseUsageEvent(req)
	if err != nil {
		AbortWithError(c, err)
		return quotadomain.UsageEvent{}, false
	}
	c.Set("usage_kind", string(event.Kind))
	return event, true
}
