// README: MQTT ingest of driver telemetry; each message becomes a location ping.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// LocationTopic matches baba/drivers/{driverId}/location.
const LocationTopic = "baba/drivers/+/location"

var (
	ErrBadTopic     = errors.New("unexpected topic")
	ErrUnauthorized = errors.New("telemetry sender is not the topic's driver")
)

// Pinger is the coordinator entry point for positions.
type Pinger interface {
	Ping(ctx context.Context, driverID types.ID, p types.Point, at time.Time) (*location.PingResult, error)
}

// LocationMessage carries the driver's own bearer token; the topic alone proves nothing.
type LocationMessage struct {
	Token     string    `json:"token"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type Subscriber struct {
	pinger   Pinger
	verifier infra.TokenVerifier
	qos      byte
	timeout  time.Duration
	log      zerolog.Logger
}

func NewSubscriber(p Pinger, verifier infra.TokenVerifier, qos byte, log zerolog.Logger) *Subscriber {
	return &Subscriber{pinger: p, verifier: verifier, qos: qos, timeout: 5 * time.Second, log: log}
}

// Subscribe registers the handler; call it from the client's on-connect hook.
func (s *Subscriber) Subscribe(c paho.Client) error {
	tok := c.Subscribe(LocationTopic, s.qos, s.Handle)
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", LocationTopic)
	}
	return tok.Error()
}

func (s *Subscriber) Handle(_ paho.Client, m paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Ingest(ctx, m.Topic(), m.Payload()); err != nil {
		s.log.Warn().Err(err).Str("topic", m.Topic()).Msg("drop telemetry")
	}
}

// Ingest applies one telemetry message once its token proves the sender is the
// driver named in the topic.
func (s *Subscriber) Ingest(ctx context.Context, topic string, payload []byte) error {
	driverID, msg, err := Parse(topic, payload)
	if err != nil {
		return err
	}
	ident, err := s.verifier.VerifyToken(ctx, msg.Token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if ident.Role != infra.RoleDriver || ident.ID != driverID {
		return fmt.Errorf("%w: %s %s on %s", ErrUnauthorized, ident.Role, ident.ID, topic)
	}
	p := types.Point{Lat: msg.Latitude, Lng: msg.Longitude}
	if _, err := s.pinger.Ping(ctx, driverID, p, msg.Timestamp); err != nil {
		return fmt.Errorf("ping %s: %w", driverID, err)
	}
	return nil
}

func Parse(topic string, payload []byte) (types.ID, *LocationMessage, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "baba" || parts[1] != "drivers" || parts[3] != "location" || parts[2] == "" {
		return "", nil, fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	var msg LocationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", nil, fmt.Errorf("decode payload: %w", err)
	}
	return types.ID(parts[2]), &msg, nil
}
