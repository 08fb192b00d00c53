package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
)

// StreamNotices pushes overage warnings and balance changes of one scope
// as server-sent events.
func (s *Server) StreamNotices(c *gin.Context) {
	if s.notices == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	scope, ok := scopeFromContext(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscription, backlog, err := s.notices.Subscribe(scope.String())
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, notice := range backlog {
		if err := writeNotice(writer, notice); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-subscription.Notices():
			if !ok {
				return
			}
			if err := writeNotice(writer, notice); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeNotice(w io.Writer, notice notify.Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", notice.Kind, data)
	return err
}
