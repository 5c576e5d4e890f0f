// README: RabbitMQ publisher used to mirror realtime events onto a topic exchange.
package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const amqpReconnectInterval = 5 * time.Second

var ErrBrokerClosed = errors.New("amqp connection closed")

type RabbitMQ struct {
	ctx          context.Context
	url          string
	log          zerolog.Logger
	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	declared     map[string]bool
	reconnecting bool
}

func NewRabbitMQ(ctx context.Context, url string, log zerolog.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{ctx: ctx, url: url, log: log, declared: make(map[string]bool)}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("rabbit connect: %w", err)
	}
	return r, nil
}

// PublishJSON publishes msg as a persistent JSON message. A dead connection
// triggers a background reconnect and the message is dropped.
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchange, routingKey string, msg any) error {
	if !r.IsAlive() {
		go r.reconnect()
		return ErrBrokerClosed
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.declared[exchange] {
		if err := r.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		r.declared[exchange] = true
	}
	pubctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.ch.PublishWithContext(pubctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (r *RabbitMQ) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.declared = make(map[string]bool)
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) reconnect() {
	r.mu.Lock()
	if r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()

	t := time.NewTicker(amqpReconnectInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := r.connect(); err != nil {
				r.log.Warn().Err(err).Msg("amqp reconnect failed")
				continue
			}
			r.log.Info().Msg("amqp reconnected")
			return
		case <-r.ctx.Done():
			return
		}
	}
}
