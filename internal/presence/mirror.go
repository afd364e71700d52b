// Package presence mirrors live signaling-room membership into redis sets,
// giving other instances (and operators) a view of who is connected where.
// The in-process registry stays authoritative; every mirror operation is
// best effort and never affects a connection.
package presence

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/config"
)

// Sets expire on their own so a crashed instance cannot leak members forever.
const keyTTL = 24 * time.Hour

type Mirror struct {
	client *redis.Client
}

// Connect opens the mirror. An empty address yields a disabled mirror, which
// is valid everywhere one is accepted.
func Connect(cfg config.RedisConfig) (*Mirror, error) {
	if cfg.Addr == "" {
		return &Mirror{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Mirror{client: client}, nil
}

func (m *Mirror) Enabled() bool {
	return m != nil && m.client != nil
}

func (m *Mirror) Close() error {
	if !m.Enabled() {
		return nil
	}
	return m.client.Close()
}

// Ping reports mirror health for the health endpoint.
func (m *Mirror) Ping(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	return m.client.Ping(ctx).Err()
}

// ParticipantJoined records a signaling join. Satisfies relay.PresenceObserver.
func (m *Mirror) ParticipantJoined(slug string, userID int64) {
	if !m.Enabled() {
		return
	}
	ctx := context.Background()
	key := setKey(slug)
	if err := m.client.SAdd(ctx, key, strconv.FormatInt(userID, 10)).Err(); err != nil {
		log.Printf("presence mirror: add %d to %q failed: %v", userID, slug, err)
		return
	}
	m.client.Expire(ctx, key, keyTTL)
}

// ParticipantLeft records a signaling leave. Satisfies relay.PresenceObserver.
func (m *Mirror) ParticipantLeft(slug string, userID int64) {
	if !m.Enabled() {
		return
	}
	if err := m.client.SRem(context.Background(), setKey(slug), strconv.FormatInt(userID, 10)).Err(); err != nil {
		log.Printf("presence mirror: remove %d from %q failed: %v", userID, slug, err)
	}
}

func setKey(slug string) string {
	return "presence:" + slug
}
