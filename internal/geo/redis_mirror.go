package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/models"
)

// Mirror receives best-effort copies of rider positions. The presence tracker
// never depends on a mirror write succeeding.
type Mirror interface {
	Upsert(riderID string, loc models.Location, status models.RiderStatus) error
	Remove(riderID string) error
}

// RedisMirror projects rider positions into a Redis GEO set plus a metadata
// hash per rider, so the dashboard collaborator can run radius queries
// without touching the dispatch process.
type RedisMirror struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key, ctx: context.Background()}
}

func (r *RedisMirror) Upsert(riderID string, loc models.Location, status models.RiderStatus) error {
	if _, err := r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
		Name:      riderID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(r.ctx, metaKey(riderID), map[string]interface{}{
		"status":   string(status),
		"accuracy": strconv.FormatFloat(loc.Accuracy, 'f', -1, 64),
		"updated":  time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisMirror) Remove(riderID string) error {
	if err := r.client.ZRem(r.ctx, r.key, riderID).Err(); err != nil {
		return err
	}
	return r.client.Del(r.ctx, metaKey(riderID)).Err()
}

func (r *RedisMirror) Close() error { return r.client.Close() }

func metaKey(id string) string { return "rider:meta:" + id }
