// README: Queued relay publishing room events to a RabbitMQ topic exchange.
package realtime

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const DefaultRelayExchange = "baba.events"

// Publisher is the broker side of the relay; infra.RabbitMQ satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, msg any) error
}

type relayMessage struct {
	Room  Room   `json:"room"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	At    int64  `json:"at"`
}

type envelope struct {
	key string
	msg relayMessage
}

// QueueRelay buffers events and publishes them from a single goroutine. A full queue drops.
type QueueRelay struct {
	pub      Publisher
	exchange string
	queue    chan envelope
	dropped  atomic.Uint64
	log      zerolog.Logger
	now      func() time.Time
}

func NewQueueRelay(pub Publisher, exchange string, size int, log zerolog.Logger) *QueueRelay {
	if exchange == "" {
		exchange = DefaultRelayExchange
	}
	if size <= 0 {
		size = 1024
	}
	return &QueueRelay{
		pub:      pub,
		exchange: exchange,
		queue:    make(chan envelope, size),
		log:      log,
		now:      time.Now,
	}
}

// RoutingKey maps a room to an AMQP topic key: "fleet:f1" becomes "fleet.f1".
func RoutingKey(room Room) string {
	return strings.ReplaceAll(string(room), ":", ".")
}

func (q *QueueRelay) Relay(room Room, ev Event) {
	env := envelope{
		key: RoutingKey(room),
		msg: relayMessage{Room: room, Event: ev.Name, Data: ev.Data, At: q.now().UnixMilli()},
	}
	select {
	case q.queue <- env:
	default:
		q.dropped.Add(1)
	}
}

func (q *QueueRelay) Dropped() uint64 { return q.dropped.Load() }

// Run publishes until ctx is done. Publish failures are logged and the message is discarded.
func (q *QueueRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.queue:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := q.pub.PublishJSON(pctx, q.exchange, env.key, env.msg); err != nil {
				q.log.Warn().Err(err).Str("key", env.key).Str("event", env.msg.Event).Msg("relay publish failed")
			}
			cancel()
		}
	}
}
