package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quizbot-service/internal/domain"
	"quizbot-service/internal/infra/memory"
)

// ScoreTracker keeps statistics in Redis so they survive restarts and are shared by instances.
// Users are stored as:  HSET {prefix}:user:{id} name .. correct .. total ..
// Known users as:       SADD {prefix}:users {id}
// Topic usage as:       ZINCRBY {prefix}:topics 1 {topic}
type ScoreTracker struct {
	client *redis.Client
	prefix string
}

func NewScoreTracker(client *redis.Client, prefix string) *ScoreTracker {
	if prefix == "" {
		prefix = "quiz:stats"
	}
	return &ScoreTracker{client: client, prefix: prefix}
}

func (t *ScoreTracker) RecordUsage(ctx context.Context, topic string) error {
	if err := t.client.ZIncrBy(ctx, t.topicsKey(), 1, topic).Err(); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (t *ScoreTracker) RecordUser(ctx context.Context, user domain.User) error {
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, t.usersKey(), user.ID)
	if user.Name != "" {
		pipe.HSet(ctx, t.userKey(user.ID), "name", user.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record user: %w", err)
	}
	return nil
}

func (t *ScoreTracker) RecordAnswer(ctx context.Context, user domain.User, correct bool) error {
	key := t.userKey(user.ID)

	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, t.usersKey(), user.ID)
	if user.Name != "" {
		pipe.HSet(ctx, key, "name", user.Name)
	}
	pipe.HIncrBy(ctx, key, "total", 1)
	if correct {
		pipe.HIncrBy(ctx, key, "correct", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	return nil
}

func (t *ScoreTracker) Snapshot(ctx context.Context) (domain.StatsSnapshot, error) {
	ids, err := t.client.SMembers(ctx, t.usersKey()).Result()
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("list users: %w", err)
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, t.userKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("load users: %w", err)
		}
	}

	users := make([]domain.UserStats, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		users = append(users, domain.UserStats{
			UserID:  id,
			Name:    fields["name"],
			Correct: atoi(fields["correct"]),
			Total:   atoi(fields["total"]),
		})
	}

	zs, err := t.client.ZRevRangeWithScores(ctx, t.topicsKey(), 0, -1).Result()
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("list topics: %w", err)
	}
	topics := make([]domain.TopicUsage, 0, len(zs))
	for _, z := range zs {
		topics = append(topics, domain.TopicUsage{
			Topic: z.Member.(string),
			Count: int(z.Score),
		})
	}

	memory.SortSnapshot(users, topics)
	return domain.StatsSnapshot{
		Users:       users,
		Topics:      topics,
		UniqueUsers: len(users),
	}, nil
}

func (t *ScoreTracker) userKey(userID string) string {
	return t.prefix + ":user:" + userID
}

func (t *ScoreTracker) usersKey() string {
	return t.prefix + ":users"
}

func (t *ScoreTracker) topicsKey() string {
	return t.prefix + ":topics"
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
