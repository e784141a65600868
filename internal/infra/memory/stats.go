package memory

import (
	"context"
	"sort"
	"sync"

	"quizbot-service/internal/domain"
)

// ScoreTracker keeps usage and answer counters in process memory.
type ScoreTracker struct {
	mu     sync.RWMutex
	users  map[string]*domain.UserStats
	topics map[string]int
}

func NewScoreTracker() *ScoreTracker {
	return &ScoreTracker{
		users:  make(map[string]*domain.UserStats),
		topics: make(map[string]int),
	}
}

func (t *ScoreTracker) RecordUsage(_ context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.topics[topic]++
	return nil
}

func (t *ScoreTracker) RecordUser(_ context.Context, user domain.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userLocked(user)
	return nil
}

func (t *ScoreTracker) RecordAnswer(_ context.Context, user domain.User, correct bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.userLocked(user)
	st.Total++
	if correct {
		st.Correct++
	}
	return nil
}

func (t *ScoreTracker) Snapshot(_ context.Context) (domain.StatsSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]domain.UserStats, 0, len(t.users))
	for _, st := range t.users {
		users = append(users, *st)
	}
	topics := make([]domain.TopicUsage, 0, len(t.topics))
	for topic, n := range t.topics {
		topics = append(topics, domain.TopicUsage{Topic: topic, Count: n})
	}
	SortSnapshot(users, topics)

	return domain.StatsSnapshot{
		Users:       users,
		Topics:      topics,
		UniqueUsers: len(users),
	}, nil
}

func (t *ScoreTracker) userLocked(user domain.User) *domain.UserStats {
	st, ok := t.users[user.ID]
	if !ok {
		st = &domain.UserStats{UserID: user.ID}
		t.users[user.ID] = st
	}
	if user.Name != "" {
		st.Name = user.Name
	}
	return st
}

// SortSnapshot orders users by correct answers and topics by usage, both descending,
// breaking ties by name.
func SortSnapshot(users []domain.UserStats, topics []domain.TopicUsage) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].Correct != users[j].Correct {
			return users[i].Correct > users[j].Correct
		}
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].UserID < users[j].UserID
	})
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Count != topics[j].Count {
			return topics[i].Count > topics[j].Count
		}
		return topics[i].Topic < topics[j].Topic
	})
}
