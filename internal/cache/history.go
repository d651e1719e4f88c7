// Package cache publishes match-event history to Redis. The publisher is
// optional: when Init has not been called (or failed) every publish is a
// cheap no-op, so the server runs fine without Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the shared Redis client, nil when history publishing is disabled.
var Rdb *redis.Client

// historyTTL caps how long a session's event list survives after its last
// event. Live game state is never read back from Redis.
const historyTTL = 24 * time.Hour

// MatchEventRecord is one entry of a session's ordered event history.
type MatchEventRecord struct {
	SessionCode string                 `json:"sessionCode"`
	EventIndex  int                    `json:"eventIndex"`
	ActorID     uuid.UUID              `json:"actorId"` // Nil for session-level events
	EventType   string                 `json:"eventType"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   int64                  `json:"timestamp"` // unix millis
}

// Init connects the shared client and verifies the server is reachable.
func Init(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	Rdb = client
	return nil
}

// Close releases the shared client.
func Close() error {
	if Rdb == nil {
		return nil
	}
	err := Rdb.Close()
	Rdb = nil
	return err
}

// historyKey returns the Redis list key for a session's event history.
func historyKey(code string) string { return "duel:history:" + code }

// PublishMatchEvent appends the record to the session's history list.
func PublishMatchEvent(ctx context.Context, rec MatchEventRecord) error {
	if Rdb == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := historyKey(rec.SessionCode)
	pipe := Rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, historyTTL)
	_, err = pipe.Exec(ctx)
	return err
}
