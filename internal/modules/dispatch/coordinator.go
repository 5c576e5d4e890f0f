// README: Dispatch coordinator: serializes order and driver operations on keyed lanes
// and sequences every state change with its broadcasts.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/if929hong-bot/baba-taxi/internal/metrics"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
)

var (
	ErrStopped   = errors.New("coordinator stopped")
	ErrForbidden = errors.New("forbidden")
)

type Config struct {
	Lanes      int `koanf:"lanes"`
	LaneBuffer int `koanf:"lane_buffer"`
	// AutoMatchWindow delays the automatic claim so drivers can grab the order by hand.
	// Zero matches inside Create.
	AutoMatchWindow time.Duration `koanf:"auto_match_window"`
	// PendingTTL cancels orders left pending for longer; zero disables expiry.
	PendingTTL            time.Duration `koanf:"pending_ttl"`
	SweepInterval         time.Duration `koanf:"sweep_interval"`
	FleetStatsInterval    time.Duration `koanf:"fleet_stats_interval"`
	PlatformStatsInterval time.Duration `koanf:"platform_stats_interval"`
	TaskHallLimit         int           `koanf:"task_hall_limit"`
	BaseFare              int64         `koanf:"base_fare"`
}

func (c *Config) SetDefaults() {
	if c.Lanes <= 0 {
		c.Lanes = 16
	}
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = 64
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.FleetStatsInterval <= 0 {
		c.FleetStatsInterval = 5 * time.Second
	}
	if c.PlatformStatsInterval <= 0 {
		c.PlatformStatsInterval = 10 * time.Second
	}
	if c.TaskHallLimit <= 0 {
		c.TaskHallLimit = 20
	}
	if c.BaseFare <= 0 {
		c.BaseFare = 85
	}
}

type Deps struct {
	Orders    *order.Service
	Fleets    *fleet.Service
	Locations *location.Service
	Registry  *realtime.Registry
	Bcast     *realtime.Broadcaster
	Metrics   metrics.Recorder
	Log       zerolog.Logger
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type Coordinator struct {
	orders    *order.Service
	fleets    *fleet.Service
	locations *location.Service
	registry  *realtime.Registry
	bcast     *realtime.Broadcaster
	metrics   metrics.Recorder
	log       zerolog.Logger
	cfg       Config

	lanes   []chan job
	quit    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool

	now func() time.Time
}

// New starts the lane workers; Stop (or the end of Run) shuts them down.
func New(d Deps, cfg Config) *Coordinator {
	cfg.SetDefaults()
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	c := &Coordinator{
		orders:    d.Orders,
		fleets:    d.Fleets,
		locations: d.Locations,
		registry:  d.Registry,
		bcast:     d.Bcast,
		metrics:   d.Metrics,
		log:       d.Log,
		cfg:       cfg,
		lanes:     make([]chan job, cfg.Lanes),
		quit:      make(chan struct{}),
		now:       time.Now,
	}
	for i := range c.lanes {
		c.lanes[i] = make(chan job, cfg.LaneBuffer)
		c.wg.Add(1)
		go c.runLane(c.lanes[i])
	}
	return c
}

func (c *Coordinator) runLane(lane chan job) {
	defer c.wg.Done()
	for {
		select {
		case j := <-lane:
			j.done <- j.fn(j.ctx)
		case <-c.quit:
			for {
				select {
				case j := <-lane:
					j.done <- ErrStopped
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the lane owning key and waits for it. Operations sharing a key never
// overlap. fn must not call do.
func (c *Coordinator) do(ctx context.Context, key string, fn func(context.Context) error) error {
	lane := c.lanes[xxhash.Sum64String(key)%uint64(len(c.lanes))]
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	c.mu.RLock()
	if c.stopped {
		c.mu.RUnlock()
		return ErrStopped
	}
	select {
	case lane <- j:
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	}
	c.mu.RUnlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the background loops until ctx is done, then stops the lanes.
func (c *Coordinator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runStats(ctx)
	}()
	go func() {
		defer wg.Done()
		c.runSweeper(ctx)
	}()
	<-ctx.Done()
	wg.Wait()
	c.Stop()
	return nil
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.quit)
	c.mu.Unlock()
	c.wg.Wait()
}
