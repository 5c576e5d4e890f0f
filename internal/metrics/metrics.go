// README: Dispatch metrics: a Recorder contract with Prometheus and no-op sinks.
package metrics

// Recorder receives dispatch outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	OrderCreated(fleetID string)
	ClaimResult(outcome string)
	Transition(to string)
	Broadcast(event string, delivered int)
	Ping(applied bool)
	Connections(role string, n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrderCreated(string)     {}
func (Nop) ClaimResult(string)      {}
func (Nop) Transition(string)       {}
func (Nop) Broadcast(string, int)   {}
func (Nop) Ping(bool)               {}
func (Nop) Connections(string, int) {}
