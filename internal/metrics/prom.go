// README: Prometheus sink for dispatch metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	ordersCreated *prometheus.CounterVec
	claims        *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	broadcasts    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	pings         *prometheus.CounterVec
	connections   *prometheus.GaugeVec
}

// NewProm registers the collectors on reg (the default registerer when nil).
// Collectors that are already registered are reused.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baba_orders_created_total",
			Help: "Orders created per fleet",
		}, []string{"fleet_id"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baba_claims_total",
			Help: "Claim attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baba_order_transitions_total",
			Help: "Applied order status transitions by target status",
		}, []string{"to"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baba_broadcasts_total",
			Help: "Emitted room events",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baba_broadcast_deliveries_total",
			Help: "Channel deliveries of room events",
		}, []string{"event"}),
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baba_location_pings_total",
			Help: "Location pings by whether they were applied",
		}, []string{"applied"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "baba_connections",
			Help: "Live realtime connections per role",
		}, []string{"role"}),
	}
	var err error
	if p.ordersCreated, err = register(reg, p.ordersCreated); err != nil {
		return nil, err
	}
	if p.claims, err = register(reg, p.claims); err != nil {
		return nil, err
	}
	if p.transitions, err = register(reg, p.transitions); err != nil {
		return nil, err
	}
	if p.broadcasts, err = register(reg, p.broadcasts); err != nil {
		return nil, err
	}
	if p.deliveries, err = register(reg, p.deliveries); err != nil {
		return nil, err
	}
	if p.pings, err = register(reg, p.pings); err != nil {
		return nil, err
	}
	if p.connections, err = register(reg, p.connections); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (p *Prom) OrderCreated(fleetID string) { p.ordersCreated.WithLabelValues(fleetID).Inc() }
func (p *Prom) ClaimResult(outcome string)  { p.claims.WithLabelValues(outcome).Inc() }
func (p *Prom) Transition(to string)        { p.transitions.WithLabelValues(to).Inc() }

func (p *Prom) Broadcast(event string, delivered int) {
	p.broadcasts.WithLabelValues(event).Inc()
	p.deliveries.WithLabelValues(event).Add(float64(delivered))
}

func (p *Prom) Ping(applied bool) { p.pings.WithLabelValues(strconv.FormatBool(applied)).Inc() }

func (p *Prom) Connections(role string, n int) {
	p.connections.WithLabelValues(role).Set(float64(n))
}
