package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisMirror keeps presence in Redis: a GEO set for the coordinates, one
// hash per driver for the flags, and a member set used by Load.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisMirrorFromClient(c, key)
}

func NewRedisMirrorFromClient(c *redis.Client, key string) *RedisMirror {
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Save(ctx context.Context, p models.DriverPresence) error {
	fields := map[string]interface{}{
		"online":  strconv.FormatBool(p.Online),
		"updated": p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.Location != nil {
		fields["lat"] = strconv.FormatFloat(p.Location.Lat, 'f', -1, 64)
		fields["lng"] = strconv.FormatFloat(p.Location.Lng, 'f', -1, 64)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if p.Location != nil {
			pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Location.Lng, Latitude: p.Location.Lat, Name: p.DriverID})
		}
		pipe.HSet(ctx, metaKey(p.DriverID), fields)
		pipe.SAdd(ctx, r.membersKey(), p.DriverID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror driver %s: %w", p.DriverID, err)
	}
	return nil
}

func (r *RedisMirror) Load(ctx context.Context) ([]models.DriverPresence, error) {
	ids, err := r.client.SMembers(ctx, r.membersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list mirrored drivers: %w", err)
	}
	out := make([]models.DriverPresence, 0, len(ids))
	for _, id := range ids {
		m, err := r.client.HGetAll(ctx, metaKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load driver %s: %w", id, err)
		}
		p, err := decodeMeta(id, m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisMirror) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisMirror) Close() error { return r.client.Close() }

func (r *RedisMirror) membersKey() string { return r.key + ":members" }

func decodeMeta(id string, m map[string]string) (models.DriverPresence, error) {
	p := models.DriverPresence{DriverID: id, Online: m["online"] == "true"}
	if v, ok := m["updated"]; ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return p, fmt.Errorf("driver %s updated: %w", id, err)
		}
		p.UpdatedAt = ts
	}
	lat, okLat := m["lat"]
	lng, okLng := m["lng"]
	if okLat && okLng {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return p, fmt.Errorf("driver %s lat: %w", id, err)
		}
		ln, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return p, fmt.Errorf("driver %s lng: %w", id, err)
		}
		p.Location = &models.Location{Lat: la, Lng: ln}
	}
	return p, nil
}

func metaKey(id string) string { return "driver:presence:" + id }
