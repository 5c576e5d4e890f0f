// README: Order handlers shared by passengers and fleet admins: view, track, cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/if929hong-bot/baba-taxi/internal/http/middleware"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
)

type OrderHandler struct {
	dispatch *dispatch.Coordinator
}

func NewOrderHandler(d *dispatch.Coordinator) *OrderHandler {
	return &OrderHandler{dispatch: d}
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.dispatch.GetOrder(c.Request.Context(), middleware.Caller(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type trackingResponse struct {
	Order    *order.Order       `json:"order"`
	Position *location.Position `json:"position"`
}

func (h *OrderHandler) Tracking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, pos, err := h.dispatch.Tracking(c.Request.Context(), middleware.Caller(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, trackingResponse{Order: o, Position: pos})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Cancel serves every role; the coordinator decides whether the caller may cancel.
func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.dispatch.Cancel(c.Request.Context(), dispatch.CancelInput{
		Actor:   middleware.Caller(c),
		OrderID: id,
		Reason:  req.Reason,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
