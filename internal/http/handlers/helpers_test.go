// README: Test harness: full router over memory stores with signed tokens.
package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	bhttp "github.com/if929hong-bot/baba-taxi/internal/http"
	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

const testSecret = "handlers-test"

type testAPI struct {
	router   *gin.Engine
	coord    *dispatch.Coordinator
	registry *realtime.Registry
}

// newTestAPI serves fleet f1 (code TPE01, drivers d1 and d2 online) and fleet f2
// (code KHH01, driver x1 online).
func newTestAPI(t *testing.T, cfg dispatch.Config) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fleets := fleet.NewMemoryStore()
	fleets.PutFleet(fleet.Fleet{ID: "f1", Code: "TPE01", Name: "Taipei Cabs", Status: fleet.AccountActive})
	fleets.PutFleet(fleet.Fleet{ID: "f2", Code: "KHH01", Name: "Kaohsiung Cabs", Status: fleet.AccountActive})
	for _, id := range []types.ID{"d1", "d2"} {
		fleets.PutDriver(fleet.Driver{ID: id, FleetID: "f1", Name: "Driver " + string(id), Status: fleet.AccountActive, OnlineStatus: fleet.Online})
	}
	fleets.PutDriver(fleet.Driver{ID: "x1", FleetID: "f2", Name: "Other", Status: fleet.AccountActive, OnlineStatus: fleet.Online})

	orders := order.NewService(order.NewMemoryStore(fleets))
	verifier := infra.NewJWTVerifier(testSecret)
	registry := realtime.NewRegistry(verifier)
	if cfg.Lanes == 0 {
		cfg.Lanes = 2
	}
	coord := dispatch.New(dispatch.Deps{
		Orders:    orders,
		Fleets:    fleet.NewService(fleets),
		Locations: location.NewService(location.NewMemoryCache(), orders),
		Registry:  registry,
		Bcast:     realtime.NewBroadcaster(registry, zerolog.Nop()),
		Log:       zerolog.Nop(),
	}, cfg)
	t.Cleanup(coord.Stop)

	router := bhttp.NewRouter(bhttp.RouterDeps{
		Dispatch: coord,
		Verifier: verifier,
		Log:      zerolog.Nop(),
	})
	return &testAPI{router: router, coord: coord, registry: registry}
}

func manual() dispatch.Config { return dispatch.Config{AutoMatchWindow: time.Hour} }

func token(t *testing.T, role infra.Role, id, fleetID types.ID) string {
	t.Helper()
	raw, err := infra.IssueToken(testSecret, infra.Identity{Role: role, ID: id, FleetID: fleetID}, time.Hour)
	require.NoError(t, err)
	return raw
}

func (a *testAPI) do(method, path string, body any, tok string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// book creates an order in fleet f1 for the passenger and returns its id.
func (a *testAPI) book(t *testing.T, passengerTok string) types.ID {
	t.Helper()
	w := a.do(http.MethodPost, "/api/passenger/bookings", map[string]any{
		"fleetCode":      "tpe01",
		"passengerPhone": "0988-123-456",
		"pickupAddress":  "Taipei 101",
		"dropoffAddress": "Taipei Main Station",
	}, passengerTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[dispatch.CreateResult](t, w)
	return res.Order.ID
}

func taskPath(id types.ID, suffix string) string {
	return fmt.Sprintf("/api/driver/tasks/%s%s", id, suffix)
}
