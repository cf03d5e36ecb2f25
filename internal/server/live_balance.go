package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditflow/internal/notification"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
)

// StreamBalanceUpdates pushes real-time balance changes for a user over SSE.
func (s *Server) StreamBalanceUpdates(c *gin.Context) {
	if s.liveUpdates == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Reject unknown users before holding a stream open.
	if _, err := s.subscriptionSvc.GetByUserID(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	session, backlog, err := s.liveUpdates.Subscribe(orgID, userID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer session.Close()

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

	for _, update := range backlog {
		if err := writeBalanceUpdate(writer, update); err != nil {
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
		case update := <-session.Updates():
			if err := writeBalanceUpdate(writer, update); err != nil {
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

func writeBalanceUpdate(w io.Writer, update notification.BalanceUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
