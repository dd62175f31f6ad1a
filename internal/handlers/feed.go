package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/upvote"

	"github.com/gin-gonic/gin"
)

type FeedHandler struct {
	broadcaster feed.Broadcaster
	keepAlive   time.Duration
	log         *logger.Logger
}

func NewFeedHandler(broadcaster feed.Broadcaster, keepAlive time.Duration, log *logger.Logger) *FeedHandler {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return &FeedHandler{broadcaster: broadcaster, keepAlive: keepAlive, log: log}
}

// Stream pushes every change as a server-sent "change" event until the
// client goes away.
func (h *FeedHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	events, err := h.broadcaster.Subscribe(ctx)
	if err != nil {
		RespondError(c, h.log, fmt.Errorf("%w: %v", upvote.ErrUnavailable, err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("change", ev)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
