// Package session tracks the single active pairing session against its
// platform_id in Redis, so a reconnecting bridge client (or an admin
// health probe) can resolve "which session is this app for" without the
// orchestrator holding that lookup in memory. Adapted from the teacher's
// per-user Redis session registry, collapsed to one active record per
// platform since the kiosk never serves concurrent sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session: not found")

type Record struct {
	SessionID  string
	PlatformID string
	Token      string
	CreatedAt  time.Time
}

type Manager struct {
	client *redis.Client
}

func NewManager(addr string, password string) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Manager{client: rdb}
}

func (m *Manager) key(platformID string) string {
	return fmt.Sprintf("pairing_session:%s", platformID)
}

// Put registers the active session for platformID, expiring after ttl
// (the orchestrator passes the pairing token's expires_in). A later Put for the same
// platform replaces the prior record, matching the "at most one active
// session" invariant.
func (m *Manager) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	key := m.key(rec.PlatformID)
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key,
		"session_id", rec.SessionID,
		"platform_id", rec.PlatformID,
		"token", rec.Token,
		"created_at", rec.CreatedAt.Unix(),
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *Manager) Get(ctx context.Context, platformID string) (Record, error) {
	key := m.key(platformID)
	vals, err := m.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Record{}, err
	}
	if len(vals) == 0 {
		return Record{}, ErrNotFound
	}

	var createdAt time.Time
	if ts, ok := vals["created_at"]; ok {
		var unix int64
		if _, err := fmt.Sscanf(ts, "%d", &unix); err == nil {
			createdAt = time.Unix(unix, 0)
		}
	}

	return Record{
		SessionID:  vals["session_id"],
		PlatformID: vals["platform_id"],
		Token:      vals["token"],
		CreatedAt:  createdAt,
	}, nil
}

func (m *Manager) Delete(ctx context.Context, platformID string) error {
	return m.client.Del(ctx, m.key(platformID)).Err()
}
