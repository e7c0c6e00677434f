package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/event"
)

// endedTTL keeps a finished session's leaderboard readable for a while after
// the session is gone from memory.
const endedTTL = time.Hour

type MirrorConfig struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Mirror maintains a Redis copy of every live leaderboard and publishes
// leaderboard changes on pub/sub, so read replicas and dashboards can follow
// a session without a hub connection. Like the archive it is fed solely by
// the event bus.
type Mirror struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewMirror(c MirrorConfig) *Mirror {
	m := &Mirror{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	m.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return m.updateScore(ctx, e.(domain.EventScoreUpdated))
	})
	m.eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return m.publishLeaderboard(ctx, e.(domain.EventLeaderboardUpdated))
	})
	m.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return m.sessionEnded(ctx, e.(domain.EventSessionEnded))
	})

	return m
}

func (m *Mirror) updateScore(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := m.redis.ZAdd(ctx, m.leaderboardKey(e.SessionCode), redis.Z{
		Score:  float64(e.TotalScore),
		Member: e.ParticipantID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

func (m *Mirror) publishLeaderboard(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	payload, err := json.Marshal(e.Leaderboard)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	if err := m.redis.Publish(ctx, m.channel(e.SessionCode), payload).Err(); err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}

	return nil
}

func (m *Mirror) sessionEnded(ctx context.Context, e domain.EventSessionEnded) error {
	payload, err := json.Marshal(e.Leaderboard)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	key := m.leaderboardKey(e.SessionCode)
	if err := m.redis.Expire(ctx, key, endedTTL).Err(); err != nil {
		return fmt.Errorf("expire leaderboard: %w", err)
	}

	if err := m.redis.Publish(ctx, m.channel(e.SessionCode), payload).Err(); err != nil {
		return fmt.Errorf("publish final leaderboard: %w", err)
	}

	return nil
}

// Leaderboard reads the mirrored leaderboard back, highest scores first.
func (m *Mirror) Leaderboard(ctx context.Context, sessionCode string) ([]redis.Z, error) {
	res, err := m.redis.ZRevRangeWithScores(ctx, m.leaderboardKey(sessionCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	return res, nil
}

func (m *Mirror) leaderboardKey(sessionCode string) string {
	return fmt.Sprintf("%s:%s:leaderboard", m.prefix, sessionCode)
}

func (m *Mirror) channel(sessionCode string) string {
	return fmt.Sprintf("%s:%s:updates", m.prefix, sessionCode)
}
