// README: Connection registry: who is connected, and which rooms they joined.
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

var ErrUnauthorized = errors.New("unauthorized")

// Channel is the outbound side of a live client. Send must not block.
type Channel interface {
	Send(ev Event) bool
	Close() error
}

// Connection pairs an authenticated participant with its channel. Rooms is fixed at connect time.
type Connection struct {
	ID       uint64
	Identity infra.Identity
	OrderID  types.ID
	Channel  Channel
	Rooms    []Room
}

func (c *Connection) Send(ev Event) bool { return c.Channel.Send(ev) }

type participant struct {
	role infra.Role
	id   types.ID
}

type Registry struct {
	verifier infra.TokenVerifier
	seq      atomic.Uint64

	mu            sync.RWMutex
	byParticipant map[participant]*Connection
	rooms         map[Room]map[uint64]*Connection
}

func NewRegistry(verifier infra.TokenVerifier) *Registry {
	return &Registry{
		verifier:      verifier,
		byParticipant: make(map[participant]*Connection),
		rooms:         make(map[Room]map[uint64]*Connection),
	}
}

// Authenticate verifies a bearer token.
func (r *Registry) Authenticate(ctx context.Context, token string) (*infra.Identity, error) {
	if r.verifier == nil {
		return nil, ErrUnauthorized
	}
	ident, err := r.verifier.VerifyToken(ctx, token)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return ident, nil
}

// Connect authenticates the token and registers the channel.
func (r *Registry) Connect(ctx context.Context, token string, orderID types.ID, ch Channel) (*Connection, error) {
	ident, err := r.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	conn, _ := r.Register(*ident, orderID, ch)
	return conn, nil
}

// Register joins the identity's rooms. A previous connection of the same participant is
// superseded: it leaves every room and is returned so the caller can dispose of it.
func (r *Registry) Register(ident infra.Identity, orderID types.ID, ch Channel) (*Connection, *Connection) {
	conn := &Connection{
		ID:       r.seq.Add(1),
		Identity: ident,
		OrderID:  orderID,
		Channel:  ch,
		Rooms:    roomsFor(ident, orderID),
	}
	key := participant{role: ident.Role, id: ident.ID}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byParticipant[key]
	if prev != nil {
		r.leaveLocked(prev)
	}
	r.byParticipant[key] = conn
	for _, room := range conn.Rooms {
		members := r.rooms[room]
		if members == nil {
			members = make(map[uint64]*Connection)
			r.rooms[room] = members
		}
		members[conn.ID] = conn
	}
	return conn, prev
}

func roomsFor(ident infra.Identity, orderID types.ID) []Room {
	switch ident.Role {
	case infra.RoleDriver:
		return []Room{DriverRoom(ident.ID), FleetRoom(ident.FleetID)}
	case infra.RolePassenger:
		if orderID != "" {
			return []Room{PassengerRoom(orderID)}
		}
	case infra.RoleFleetAdmin:
		return []Room{FleetRoom(ident.FleetID)}
	case infra.RoleSuperAdmin:
		return []Room{SuperAdminRoom}
	}
	return nil
}

// Disconnect removes the connection. It returns false when the connection had already been
// superseded, so disconnect side effects belong to the newer connection.
func (r *Registry) Disconnect(conn *Connection) bool {
	key := participant{role: conn.Identity.Role, id: conn.Identity.ID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byParticipant[key] != conn {
		return false
	}
	delete(r.byParticipant, key)
	r.leaveLocked(conn)
	return true
}

func (r *Registry) leaveLocked(conn *Connection) {
	for _, room := range conn.Rooms {
		members := r.rooms[room]
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Members returns a snapshot of the room, ordered by connection id.
func (r *Registry) Members(room Room) []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.rooms[room]))
	for _, c := range r.rooms[room] {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Lookup(role infra.Role, id types.ID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byParticipant[participant{role: role, id: id}]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParticipant)
}

func (r *Registry) CountRole(role infra.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for p := range r.byParticipant {
		if p.role == role {
			n++
		}
	}
	return n
}

// AdminFleets lists the fleets with at least one connected fleet admin.
func (r *Registry) AdminFleets() []types.ID {
	r.mu.RLock()
	seen := make(map[types.ID]struct{})
	for p, c := range r.byParticipant {
		if p.role == infra.RoleFleetAdmin {
			seen[c.Identity.FleetID] = struct{}{}
		}
	}
	r.mu.RUnlock()
	out := make([]types.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
