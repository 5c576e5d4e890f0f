// README: HTTP router registration.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/if929hong-bot/baba-taxi/internal/http/handlers"
	"github.com/if929hong-bot/baba-taxi/internal/http/middleware"
	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
)

type RouterDeps struct {
	Dispatch       *dispatch.Coordinator
	Verifier       infra.TokenVerifier
	Log            zerolog.Logger
	Health         map[string]handlers.Pinger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	WSBuffer       int
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(d.Log), middleware.Recovery(d.Log))

	health := handlers.NewHealthHandler(d.Health)
	r.GET("/health", health.Live)
	r.GET("/ready", health.Ready)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	ws := handlers.NewWSHandler(d.Dispatch, d.AllowedOrigins, d.WSBuffer, d.Log)
	r.GET("/ws", ws.Serve)

	orders := handlers.NewOrderHandler(d.Dispatch)
	api := r.Group("/api", middleware.Auth(d.Verifier))

	passenger := api.Group("/passenger", middleware.RequireRole(infra.RolePassenger))
	bookings := handlers.NewPassengerHandler(d.Dispatch)
	passenger.POST("/bookings", bookings.Book)
	passenger.GET("/bookings/:id", orders.Get)
	passenger.POST("/bookings/:id/cancel", orders.Cancel)
	passenger.PUT("/bookings/:id/complete", bookings.Complete)
	passenger.GET("/bookings/:id/tracking", orders.Tracking)

	driver := api.Group("/driver", middleware.RequireRole(infra.RoleDriver))
	drivers := handlers.NewDriverHandler(d.Dispatch)
	driver.PUT("/online-status", drivers.SetOnline)
	driver.PUT("/location", drivers.UpdateLocation)
	driver.GET("/tasks", drivers.Tasks)
	driver.GET("/tasks/mine", drivers.MyTasks)
	driver.GET("/tasks/:id", orders.Get)
	driver.POST("/tasks/:id/claim", drivers.Claim)
	driver.PATCH("/tasks/:id/status", drivers.UpdateStatus)
	driver.POST("/tasks/:id/cancel", orders.Cancel)

	fleetAdmin := api.Group("/fleet", middleware.RequireRole(infra.RoleFleetAdmin, infra.RoleSuperAdmin))
	fleetAdmin.GET("/orders/:id", orders.Get)
	fleetAdmin.GET("/orders/:id/tracking", orders.Tracking)
	fleetAdmin.POST("/orders/:id/cancel", orders.Cancel)

	return r
}
