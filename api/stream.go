package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamBoard sends the board as Server-Sent Events, one frame per state change.
func (h *handlers) streamBoard(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)
	// Write an initial comment to ensure headers are flushed to the client.
	if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	states := h.board.Watch(ctx)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return nil
			}
			data, err := sonic.Marshal(newBoardView(st))
			if err != nil {
				h.logger.WithError(err).Error("encode board state")
				return nil
			}
			frame := make([]byte, 0, len(data)+8)
			frame = append(frame, "data: "...)
			frame = append(frame, data...)
			frame = append(frame, "\n\n"...)
			if _, err := c.Response().Write(frame); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			// Send a comment as a heartbeat to keep the connection alive.
			if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}
