// README: Location cache backed by Redis hashes (loc:driver:{id}, loc:order:{id}).
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// setIfNewer writes the hash unless the stored ts (unix micros) is newer.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'lat', ARGV[2], 'lng', ARGV[3], 'ref', ARGV[4], 'dist', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func driverKey(id types.ID) string { return "loc:driver:" + string(id) }
func orderKey(id types.ID) string  { return "loc:order:" + string(id) }

func (c *RedisCache) SetDriver(ctx context.Context, loc DriverLocation) (bool, error) {
	return c.set(ctx, driverKey(loc.DriverID), loc.UpdatedAt, loc.Position, "", 0)
}

func (c *RedisCache) Driver(ctx context.Context, driverID types.ID) (*DriverLocation, error) {
	h, err := c.get(ctx, driverKey(driverID))
	if err != nil {
		return nil, err
	}
	return &DriverLocation{DriverID: driverID, Position: h.point, UpdatedAt: h.at}, nil
}

func (c *RedisCache) ClearDriver(ctx context.Context, driverID types.ID) error {
	return c.rdb.Del(ctx, driverKey(driverID)).Err()
}

func (c *RedisCache) SetTracking(ctx context.Context, tr OrderTracking) (bool, error) {
	return c.set(ctx, orderKey(tr.OrderID), tr.UpdatedAt, tr.Position, string(tr.DriverID), tr.DistanceKm)
}

func (c *RedisCache) Tracking(ctx context.Context, orderID types.ID) (*OrderTracking, error) {
	h, err := c.get(ctx, orderKey(orderID))
	if err != nil {
		return nil, err
	}
	return &OrderTracking{
		OrderID:    orderID,
		DriverID:   types.ID(h.ref),
		Position:   h.point,
		DistanceKm: h.dist,
		UpdatedAt:  h.at,
	}, nil
}

func (c *RedisCache) ClearTracking(ctx context.Context, orderID types.ID) error {
	return c.rdb.Del(ctx, orderKey(orderID)).Err()
}

func (c *RedisCache) set(ctx context.Context, key string, at time.Time, p types.Point, ref string, dist float64) (bool, error) {
	n, err := setIfNewer.Run(ctx, c.rdb, []string{key},
		at.UnixMicro(),
		strconv.FormatFloat(p.Lat, 'f', -1, 64),
		strconv.FormatFloat(p.Lng, 'f', -1, 64),
		ref,
		strconv.FormatFloat(dist, 'f', -1, 64),
		c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", key, err)
	}
	return n == 1, nil
}

type hashEntry struct {
	point types.Point
	at    time.Time
	ref   string
	dist  float64
}

func (c *RedisCache) get(ctx context.Context, key string) (*hashEntry, error) {
	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return nil, ErrNoPosition
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var h hashEntry
	if h.point.Lat, err = strconv.ParseFloat(vals["lat"], 64); err != nil {
		return nil, fmt.Errorf("decode %s lat: %w", key, err)
	}
	if h.point.Lng, err = strconv.ParseFloat(vals["lng"], 64); err != nil {
		return nil, fmt.Errorf("decode %s lng: %w", key, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s ts: %w", key, err)
	}
	h.at = time.UnixMicro(ts)
	h.ref = vals["ref"]
	if d := vals["dist"]; d != "" {
		h.dist, _ = strconv.ParseFloat(d, 64)
	}
	return &h, nil
}
