package handlers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/api/dto"
	"github.com/spec-kit/breakdown-service/internal/projector"
	"github.com/spec-kit/breakdown-service/internal/session"
)

const defaultHeartbeat = 25 * time.Second

// StreamHandler pushes projector snapshots as server-sent events.
type StreamHandler struct {
	sessions  *session.Registry
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewStreamHandler constructs handler. A non-positive heartbeat uses the default.
func NewStreamHandler(sessions *session.Registry, logger *zap.Logger, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{sessions: sessions, logger: logger, heartbeat: heartbeat}
}

// Stream handles GET /breakdowns/stream?scope=.
// Every event carries a complete view; clients replace their state with it.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}

	// the body writer outlives the request context
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.sessions.Open(ctx, principal, projector.Scope(c.Query("scope")))
	if err != nil {
		cancel()
		return err
	}
	encode := c.App().Config().JSONEncoder

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer h.sessions.Release(sub)

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case view, ok := <-sub.Updates():
				if !ok {
					return
				}
				payload, err := encode(dto.NewViewResponse(view))
				if err != nil {
					h.logger.Error("encode view failed", zap.Error(err))
					return
				}
				fmt.Fprintf(w, "event: view\nid: %d\ndata: %s\n\n", view.Sequence, payload)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				h.logger.Debug("stream client gone",
					zap.String("principal_id", principal.ID),
					zap.Error(err))
				return
			}
		}
	}))
	return nil
}
