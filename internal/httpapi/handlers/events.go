package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
)

// heartbeat ticker (keeps connections alive)
var heartbeat = 15 * time.Second

// StreamEvents relays a session channel's envelopes as server-sent events,
// one event per envelope named after its type.
func (h *Handler) StreamEvents(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	channelID := c.Param("channel_id")
	if _, err := h.ChatSvc.GetSession(c.Request.Context(), uid, chat.SessionIDFromChannel(channelID)); err != nil {
		h.failErr(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming unsupported")
		return
	}

	ctx := c.Request.Context()
	events, cancel, err := h.Events.Subscribe(ctx, channelID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	defer cancel()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// last-resort: send a simple error that won't break SSE framing
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	for {
		select {
		case env, ok := <-events:
			if !ok {
				return
			}
			writeJSON(env.Type, env)
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}
