package http

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

// Stream upgrades the connection and pushes a state snapshot whenever
// the tab's view changes. The stream is one-way: the UI renders
// snapshots and submits intents over the REST endpoints.
// GET /api/tabs/:slot/ws
func (h *TabHandlers) Stream(c *gin.Context) {
	tab, ok := h.tab(c)
	if !ok {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// CloseRead pumps and discards inbound frames; its context ends
	// when the client goes away.
	ctx := conn.CloseRead(c.Request.Context())

	// Initial snapshot so the UI renders without waiting for a change.
	if err := wsjson.Write(ctx, conn, stateResponse(tab)); err != nil {
		h.log.Warn().Err(err).Str("slot", tab.Slot).Msg("write ws snapshot")
		return
	}

	for {
		select {
		case <-tab.Engine.Updates():
			if err := wsjson.Write(ctx, conn, stateResponse(tab)); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.log.Warn().Err(err).Str("slot", tab.Slot).Msg("write ws snapshot")
				}
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		}
	}
}
