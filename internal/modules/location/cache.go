// README: Location cache contract and the in-process implementation.
package location

import (
	"context"
	"sync"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// Cache keeps the latest position per driver and per order. Set calls apply a
// write only when it is not older than the stored one and report whether it did.
type Cache interface {
	SetDriver(ctx context.Context, loc DriverLocation) (bool, error)
	Driver(ctx context.Context, driverID types.ID) (*DriverLocation, error)
	ClearDriver(ctx context.Context, driverID types.ID) error
	SetTracking(ctx context.Context, tr OrderTracking) (bool, error)
	Tracking(ctx context.Context, orderID types.ID) (*OrderTracking, error)
	ClearTracking(ctx context.Context, orderID types.ID) error
}

type MemoryCache struct {
	mu       sync.RWMutex
	drivers  map[types.ID]DriverLocation
	tracking map[types.ID]OrderTracking
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		drivers:  make(map[types.ID]DriverLocation),
		tracking: make(map[types.ID]OrderTracking),
	}
}

func (c *MemoryCache) SetDriver(_ context.Context, loc DriverLocation) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.drivers[loc.DriverID]; ok && cur.UpdatedAt.After(loc.UpdatedAt) {
		return false, nil
	}
	c.drivers[loc.DriverID] = loc
	return true, nil
}

func (c *MemoryCache) Driver(_ context.Context, driverID types.ID) (*DriverLocation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.drivers[driverID]
	if !ok {
		return nil, ErrNoPosition
	}
	return &loc, nil
}

func (c *MemoryCache) ClearDriver(_ context.Context, driverID types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, driverID)
	return nil
}

func (c *MemoryCache) SetTracking(_ context.Context, tr OrderTracking) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.tracking[tr.OrderID]; ok && cur.UpdatedAt.After(tr.UpdatedAt) {
		return false, nil
	}
	c.tracking[tr.OrderID] = tr
	return true, nil
}

func (c *MemoryCache) Tracking(_ context.Context, orderID types.ID) (*OrderTracking, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.tracking[orderID]
	if !ok {
		return nil, ErrNoPosition
	}
	return &tr, nil
}

func (c *MemoryCache) ClearTracking(_ context.Context, orderID types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracking, orderID)
	return nil
}
