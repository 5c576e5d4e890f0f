// README: Passenger booking handler.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/if929hong-bot/baba-taxi/internal/http/middleware"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type PassengerHandler struct {
	dispatch *dispatch.Coordinator
}

func NewPassengerHandler(d *dispatch.Coordinator) *PassengerHandler {
	return &PassengerHandler{dispatch: d}
}

type bookingReq struct {
	FleetID        string `json:"fleetId"`
	FleetCode      string `json:"fleetCode"`
	PassengerPhone string `json:"passengerPhone"`
	PickupAddress  string `json:"pickupAddress"`
	DropoffAddress string `json:"dropoffAddress"`
	EstimatedFare  *int64 `json:"estimatedFare"`
	Note           string `json:"note"`
}

func (h *PassengerHandler) Book(c *gin.Context) {
	var req bookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.FleetID == "" && strings.TrimSpace(req.FleetCode) == "" {
		writeError(c, http.StatusBadRequest, "fleetId or fleetCode required")
		return
	}
	if req.FleetID != "" && !isValidID(req.FleetID) {
		writeError(c, http.StatusBadRequest, "invalid fleetId")
		return
	}
	in := dispatch.CreateInput{
		PassengerID:    middleware.CallerID(c),
		PassengerPhone: req.PassengerPhone,
		FleetID:        types.ID(req.FleetID),
		FleetCode:      strings.ToUpper(strings.TrimSpace(req.FleetCode)),
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Note:           req.Note,
	}
	if req.EstimatedFare != nil {
		fare := types.TWD(*req.EstimatedFare)
		in.EstimatedFare = &fare
	}
	res, err := h.dispatch.Create(c.Request.Context(), in)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

type completeReq struct {
	Rating        *float64 `json:"rating"`
	PaymentMethod string   `json:"paymentMethod"`
}

// Complete is the passenger's end-of-ride confirmation with an optional 0-5 rating.
func (h *PassengerHandler) Complete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.dispatch.CompleteRide(c.Request.Context(), dispatch.RideCompletion{
		Passenger:     middleware.Caller(c),
		OrderID:       id,
		Rating:        req.Rating,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
