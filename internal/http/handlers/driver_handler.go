// README: Driver handlers: availability, task hall, claim, trip progress, location.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/if929hong-bot/baba-taxi/internal/http/middleware"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type DriverHandler struct {
	dispatch *dispatch.Coordinator
}

func NewDriverHandler(d *dispatch.Coordinator) *DriverHandler {
	return &DriverHandler{dispatch: d}
}

type onlineReq struct {
	Status string `json:"status"`
}

func (h *DriverHandler) SetOnline(c *gin.Context) {
	var req onlineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.dispatch.SetOnline(c.Request.Context(), middleware.CallerID(c), fleet.OnlineStatus(req.Status), nil)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DriverHandler) Tasks(c *gin.Context) {
	tasks, err := h.dispatch.AvailableTasks(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*order.Order{}
	}
	writeJSON(c, http.StatusOK, gin.H{"tasks": tasks})
}

func (h *DriverHandler) MyTasks(c *gin.Context) {
	status := order.Status(c.Query("status"))
	if status != "" && !order.ValidStatus(status) {
		writeError(c, http.StatusBadRequest, "invalid status")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	res, err := h.dispatch.MyTasks(c.Request.Context(), middleware.CallerID(c), status, limit)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if res.Tasks == nil {
		res.Tasks = []*order.Order{}
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *DriverHandler) Claim(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.dispatch.Claim(c.Request.Context(), middleware.CallerID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type statusReq struct {
	Status        string `json:"status"`
	ActualFare    *int64 `json:"actualFare"`
	PaymentMethod string `json:"paymentMethod"`
}

func (h *DriverHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	in := dispatch.AdvanceInput{
		OrderID:       id,
		DriverID:      middleware.CallerID(c),
		Next:          order.Status(req.Status),
		PaymentMethod: req.PaymentMethod,
	}
	if req.ActualFare != nil {
		fare := types.TWD(*req.ActualFare)
		in.ActualFare = &fare
	}
	o, err := h.dispatch.Advance(c.Request.Context(), in)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type locationReq struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Timestamp *time.Time `json:"timestamp"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(c, http.StatusBadRequest, "latitude and longitude required")
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	res, err := h.dispatch.Ping(c.Request.Context(), middleware.CallerID(c),
		types.Point{Lat: *req.Latitude, Lng: *req.Longitude}, at)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
