// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the uuid-style identifiers issued by the stores.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads the :id parameter and writes a 400 when it is malformed.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, location.ErrBadRequest),
		errors.Is(err, location.ErrBadCoordinates),
		errors.Is(err, fleet.ErrBadStatus),
		errors.Is(err, dispatch.ErrUnknownFrame):
		return http.StatusBadRequest
	case errors.Is(err, realtime.ErrUnauthorized), errors.Is(err, infra.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, dispatch.ErrForbidden),
		errors.Is(err, order.ErrNotBoundDriver),
		errors.Is(err, order.ErrFleetMismatch):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, fleet.ErrFleetNotFound),
		errors.Is(err, fleet.ErrDriverNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrAlreadyClaimed),
		errors.Is(err, order.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrFleetUnavailable),
		errors.Is(err, fleet.ErrNoDriversOnline),
		errors.Is(err, fleet.ErrDriverOffline),
		errors.Is(err, fleet.ErrDriverInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispatch.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDispatchError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, err.Error())
}
