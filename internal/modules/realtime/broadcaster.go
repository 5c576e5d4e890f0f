// README: Broadcaster fans events out to room members without blocking on slow clients.
package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/metrics"
)

// Relay mirrors emitted events to another transport. It must not block.
type Relay interface {
	Relay(room Room, ev Event)
}

type Broadcaster struct {
	reg     *Registry
	relay   Relay
	metrics metrics.Recorder
	log     zerolog.Logger
}

type Option func(*Broadcaster)

func WithRelay(r Relay) Option { return func(b *Broadcaster) { b.relay = r } }

func WithMetrics(m metrics.Recorder) Option { return func(b *Broadcaster) { b.metrics = m } }

func NewBroadcaster(reg *Registry, log zerolog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{reg: reg, metrics: metrics.Nop{}, log: log}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit delivers ev to every member of room and returns how many channels accepted it.
// An empty room is a no-op.
func (b *Broadcaster) Emit(ctx context.Context, room Room, ev Event) int {
	return b.emit(ctx, room, ev, func(*Connection) bool { return true })
}

// EmitExcept skips one connection, typically the sender.
func (b *Broadcaster) EmitExcept(ctx context.Context, room Room, ev Event, except *Connection) int {
	return b.emit(ctx, room, ev, func(c *Connection) bool { return c != except })
}

// EmitRole delivers only to room members of the given role.
func (b *Broadcaster) EmitRole(ctx context.Context, room Room, role infra.Role, ev Event) int {
	return b.emit(ctx, room, ev, func(c *Connection) bool { return c.Identity.Role == role })
}

func (b *Broadcaster) emit(_ context.Context, room Room, ev Event, keep func(*Connection) bool) int {
	delivered := 0
	for _, c := range b.reg.Members(room) {
		if !keep(c) {
			continue
		}
		if c.Send(ev) {
			delivered++
			continue
		}
		b.log.Warn().
			Str("room", string(room)).
			Str("event", ev.Name).
			Uint64("conn", c.ID).
			Msg("dropped event for slow or closed channel")
	}
	b.metrics.Broadcast(ev.Name, delivered)
	if b.relay != nil {
		b.relay.Relay(room, ev)
	}
	return delivered
}
