// Package telemetry publishes quality-evaluation snapshots to Redis
// for external dashboards. Purely observational: the receiver never
// reads its own state back, so its absence or restart doesn't change
// core behavior.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// GroupSnapshot is the JSON shape published per group.
type GroupSnapshot struct {
	GroupID       string            `json:"group_id"`
	Connections   int               `json:"connections"`
	TotalKbps     float64           `json:"total_kbps"`
	PerConnection []ConnSnapshot    `json:"per_connection"`
}

// ConnSnapshot is one connection's published quality state.
type ConnSnapshot struct {
	Peer          string  `json:"peer"`
	ErrorPoints   int     `json:"error_points"`
	WeightPercent int     `json:"weight_percent"`
	AckThrottle   float64 `json:"ack_throttle"`
}

const channel = "srtla:quality"

// Cache is a Redis-backed write-through publisher of group quality
// snapshots.
type Cache struct {
	client  *redis.Client
	ctx     context.Context
	enabled bool
	ttl     time.Duration
}

// NewCache connects to Redis if enabled, returning a disabled no-op
// cache otherwise so callers don't need to check Enabled everywhere.
func NewCache(addr string, enabled bool, cleanupIntervalSeconds int) *Cache {
	if !enabled {
		return &Cache{enabled: false}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("telemetry: redis connection failed: %v", err)
		return &Cache{enabled: false}
	}
	log.Println("telemetry: connected to Redis")
	return &Cache{
		client:  client,
		ctx:     ctx,
		enabled: true,
		ttl:     time.Duration(cleanupIntervalSeconds) * time.Second,
	}
}

// Publish writes the snapshot under a per-group key with a TTL and
// publishes it to the live quality channel.
func (c *Cache) Publish(groupHex string, snap GroupSnapshot) {
	if !c.enabled {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("telemetry: marshal failed: %v", err)
		return
	}
	key := "srtla:group:" + groupHex
	if err := c.client.Set(c.ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("telemetry: set failed: %v", err)
	}
	if err := c.client.Publish(c.ctx, channel, data).Err(); err != nil {
		log.Printf("telemetry: publish failed: %v", err)
	}
}

// Close shuts down the Redis client.
func (c *Cache) Close() {
	if !c.enabled {
		return
	}
	c.client.Close()
}
