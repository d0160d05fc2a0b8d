package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lupppig/notifysender/internal/dispatch"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/runner"
)

// handleRun executes one run synchronously and returns its result.
func (s *Server) handleRun(c *gin.Context) {
	var req runner.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RunMode == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_mode is required"})
		return
	}

	res, err := s.runner.Run(c.Request.Context(), req.RunMode)
	if err != nil {
		status := http.StatusInternalServerError
		var fetchErr *dispatch.FetchError
		if errors.As(err, &fetchErr) {
			status = http.StatusBadGateway
		}
		logging.FromContext(c.Request.Context()).Error("run request failed",
			slog.String("code", "RUN_FAILED"),
			slog.String("mode", req.RunMode.String()),
			slog.Any("error", err),
		)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, res)
}

// handleEvents streams delivery events as server-sent events until the
// client disconnects. run_id and notification_id narrow the stream.
func (s *Server) handleEvents(c *gin.Context) {
	sub := &events.Subscriber{
		ID:             uuid.NewString(),
		RunID:          c.Query("run_id"),
		NotificationID: c.Query("notification_id"),
		Events:         make(chan events.DeliveryEvent, 100),
	}

	s.hub.Subscribe(sub)
	defer s.hub.Unsubscribe(sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Status), event)
			return true
		}
	})
}
