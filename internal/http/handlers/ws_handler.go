// README: Websocket endpoint; joins the caller to its rooms and feeds driver frames to dispatch.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type WSHandler struct {
	dispatch *dispatch.Coordinator
	upgrader websocket.Upgrader
	buffer   int
	log      zerolog.Logger
}

// NewWSHandler accepts any origin when allowedOrigins is empty.
func NewWSHandler(d *dispatch.Coordinator, allowedOrigins []string, buffer int, log zerolog.Logger) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &WSHandler{
		dispatch: d,
		buffer:   buffer,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func bearer(c *gin.Context) string {
	if raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(raw)
	}
	return c.Query("token")
}

// Serve upgrades the request, then authenticates. A rejected handshake gets an error
// event followed by a close.
func (h *WSHandler) Serve(c *gin.Context) {
	token := bearer(c)
	orderID := c.Query("orderId")
	if orderID != "" && !isValidID(orderID) {
		writeError(c, http.StatusBadRequest, "invalid orderId")
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws upgrade")
		return
	}
	ch := realtime.NewWSChannel(ws, h.buffer, h.log)

	// The request context ends when the handler returns; the session outlives it.
	ctx := context.WithoutCancel(c.Request.Context())
	conn, superseded, err := h.dispatch.Connect(ctx, token, types.ID(orderID), ch)
	if err != nil {
		_ = ws.WriteJSON(realtime.Event{Name: realtime.EventError, Data: realtime.ErrorPayload{Message: err.Error()}})
		_ = ch.Close()
		return
	}
	go ch.WritePump()
	if superseded != nil {
		_ = superseded.Channel.Close()
	}
	if err := ch.ReadPump(func(in realtime.Inbound) {
		if err := h.dispatch.HandleFrame(ctx, conn, in); err != nil {
			h.log.Debug().Err(err).Str("frame", in.Event).Msg("frame rejected")
		}
	}); err != nil {
		h.log.Debug().Err(err).Msg("ws read")
	}
	if err := h.dispatch.Disconnect(ctx, conn); err != nil {
		h.log.Warn().Err(err).Msg("disconnect")
	}
}
