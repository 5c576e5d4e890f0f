// README: Service wiring; builds stores, realtime, dispatch and transports from config.
package app

import (
	"context"
	"errors"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/if929hong-bot/baba-taxi/internal/config"
	bhttp "github.com/if929hong-bot/baba-taxi/internal/http"
	"github.com/if929hong-bot/baba-taxi/internal/http/handlers"
	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/metrics"
	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/ingest"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// Service owns every long-lived component of the API process.
type Service struct {
	Dispatch *dispatch.Coordinator
	Router   *gin.Engine

	cfg     *config.Config
	log     zerolog.Logger
	server  *bhttp.Server
	relay   *realtime.QueueRelay
	mqtt    paho.Client
	closers []func() error
}

// New builds the service. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *Service, err error) {
	s := &Service{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewProm(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	health := map[string]handlers.Pinger{}

	var orderStore order.Store
	var fleetStore fleet.Store
	switch cfg.Store {
	case "memory":
		fs := fleet.NewMemoryStore()
		seed(fs, cfg.Seed)
		fleetStore = fs
		orderStore = order.NewMemoryStore(fs)
	default:
		db, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { db.Close(); return nil })
		health["postgres"] = db
		fleetStore = fleet.NewPgStore(db)
		orderStore = order.NewPgStore(db)
	}
	orders := order.NewService(orderStore)

	var cache location.Cache = location.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.closers = append(s.closers, rdb.Close)
		health["redis"] = redisPinger{rdb}
		cache = location.NewRedisCache(rdb, cfg.Redis.TTL)
	}
	locations := location.NewService(cache, orders)

	verifier := infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	registry := realtime.NewRegistry(verifier)
	opts := []realtime.Option{realtime.WithMetrics(rec)}
	if cfg.RabbitMQ.URL != "" {
		mq, err := infra.NewRabbitMQ(ctx, cfg.RabbitMQ.URL, infra.Component(log, "rabbitmq"))
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		s.closers = append(s.closers, mq.Close)
		health["rabbitmq"] = rabbitPinger{mq}
		s.relay = realtime.NewQueueRelay(mq, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueSize, infra.Component(log, "relay"))
		opts = append(opts, realtime.WithRelay(s.relay))
	}
	bcast := realtime.NewBroadcaster(registry, infra.Component(log, "broadcast"), opts...)

	s.Dispatch = dispatch.New(dispatch.Deps{
		Orders:    orders,
		Fleets:    fleet.NewService(fleetStore),
		Locations: locations,
		Registry:  registry,
		Bcast:     bcast,
		Metrics:   rec,
		Log:       infra.Component(log, "dispatch"),
	}, cfg.Dispatch)

	if cfg.MQTT.Broker != "" {
		sub := ingest.NewSubscriber(s.Dispatch, verifier, byte(cfg.MQTT.QoS), infra.Component(log, "ingest"))
		mqttLog := infra.Component(log, "mqtt")
		client, err := infra.NewMQTTClient(infra.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, mqttLog, func(c paho.Client) {
			if err := sub.Subscribe(c); err != nil {
				mqttLog.Error().Err(err).Msg("subscribe")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		s.mqtt = client
	}

	gin.SetMode(gin.ReleaseMode)
	s.Router = bhttp.NewRouter(bhttp.RouterDeps{
		Dispatch:       s.Dispatch,
		Verifier:       verifier,
		Log:            infra.Component(log, "http"),
		Health:         health,
		Gatherer:       reg,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	s.server = bhttp.NewServer(bhttp.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, s.Router, infra.Component(log, "http"))
	return s, nil
}

// Run serves HTTP and runs the coordinator's background loops until ctx ends or one of
// them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Dispatch.Run(ctx) })
	g.Go(func() error { return s.server.Run(ctx) })
	if s.relay != nil {
		g.Go(func() error {
			s.relay.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Close releases resources in reverse order of acquisition.
func (s *Service) Close() error {
	if s.mqtt != nil {
		s.mqtt.Disconnect(250)
	}
	if s.Dispatch != nil {
		s.Dispatch.Stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func seed(fs *fleet.MemoryStore, cfg config.SeedConfig) {
	for _, f := range cfg.Fleets {
		fs.PutFleet(fleet.Fleet{ID: types.ID(f.ID), Code: f.Code, Name: f.Name, Status: fleet.AccountActive})
	}
	for _, d := range cfg.Drivers {
		online := fleet.Offline
		if d.Online {
			online = fleet.Online
		}
		fs.PutDriver(fleet.Driver{
			ID:           types.ID(d.ID),
			FleetID:      types.ID(d.FleetID),
			Name:         d.Name,
			Phone:        d.Phone,
			LicensePlate: d.LicensePlate,
			Status:       fleet.AccountActive,
			OnlineStatus: online,
		})
	}
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

type rabbitPinger struct{ mq *infra.RabbitMQ }

func (p rabbitPinger) Ping(context.Context) error {
	if !p.mq.IsAlive() {
		return errors.New("rabbitmq connection down")
	}
	return nil
}
