package redis

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizbot-service/internal/app"
)

const writeTimeout = 2 * time.Second

// PlayerStore is a Redis-aware implementation of app.PlayerRepository.
// Notes:
//   - Players and their locks live in a local in-memory map; sessions are not shared
//     across instances.
//   - Redis carries a liveness key per active session so operators and other instances
//     can see who is mid-quiz. KeepAlive re-arms the keys of sessions still in progress.
//   - The map lock never covers a Redis round-trip.
type PlayerStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger

	mu      sync.RWMutex
	players map[string]*app.Player
	active  map[string]string // userID -> topic
}

func NewPlayerStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *PlayerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlayerStore{
		client:  client,
		ttl:     ttl,
		prefix:  "quiz:active:",
		log:     logger,
		players: make(map[string]*app.Player),
		active:  make(map[string]string),
	}
}

func (s *PlayerStore) GetOrCreate(userID string) *app.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[userID]; ok {
		return p
	}
	p := app.NewPlayer(userID)
	s.players[userID] = p
	return p
}

func (s *PlayerStore) Get(userID string) (*app.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[userID]
	return p, ok
}

func (s *PlayerStore) SetActive(userID, topic string, active bool) {
	s.mu.Lock()
	if active {
		s.active[userID] = topic
	} else {
		delete(s.active, userID)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if active {
		err = s.client.Set(ctx, s.key(userID), topic, s.ttl).Err()
	} else {
		err = s.client.Del(ctx, s.key(userID)).Err()
	}
	if err != nil {
		s.log.Warn("redis: liveness key update failed", "user", userID, "active", active, "error", err)
	}
}

func (s *PlayerStore) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for userID := range s.active {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Refresh re-sets the liveness key of every active session with a fresh TTL.
func (s *PlayerStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make(map[string]string, len(s.active))
	for userID, topic := range s.active {
		snapshot[userID] = topic
	}
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for userID, topic := range snapshot {
		pipe.Set(ctx, s.key(userID), topic, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// KeepAlive calls Refresh every interval until ctx is done.
func (s *PlayerStore) KeepAlive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, writeTimeout)
			if err := s.Refresh(rctx); err != nil {
				s.log.Warn("redis: liveness refresh failed", "error", err)
			}
			cancel()
		}
	}
}

func (s *PlayerStore) key(userID string) string {
	return s.prefix + userID
}
