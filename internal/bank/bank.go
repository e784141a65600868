package bank

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"quizbot-service/internal/domain"
)

// Loader fetches question sets from a backing store (directory, Postgres, static map).
type Loader interface {
	LoadQuestionSets(ctx context.Context) ([]domain.QuestionSet, error)
}

// Bank holds the loaded question sets. Readers never observe a partially loaded catalog.
type Bank struct {
	defaultDelay time.Duration
	current      atomic.Pointer[catalog]
	sf           singleflight.Group
}

type catalog struct {
	order []string
	sets  map[string]domain.QuestionSet
}

// New returns an empty bank. A non-positive defaultDelay falls back to domain.DefaultDelay.
func New(defaultDelay time.Duration) *Bank {
	if defaultDelay <= 0 {
		defaultDelay = domain.DefaultDelay
	}
	b := &Bank{defaultDelay: defaultDelay}
	b.current.Store(&catalog{sets: map[string]domain.QuestionSet{}})
	return b
}

// Load validates the given sets and replaces the whole catalog with them.
// On error the previously loaded catalog is kept.
func (b *Bank) Load(sets ...domain.QuestionSet) error {
	next := &catalog{
		order: make([]string, 0, len(sets)),
		sets:  make(map[string]domain.QuestionSet, len(sets)),
	}

	var errs []error
	for _, set := range sets {
		if err := set.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := next.sets[set.Topic]; dup {
			errs = append(errs, fmt.Errorf("%w %q: duplicate topic", domain.ErrMalformedQuestionSet, set.Topic))
			continue
		}
		next.order = append(next.order, set.Topic)
		next.sets[set.Topic] = cloneSet(set)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	b.current.Store(next)
	return nil
}

// Reload fetches sets from the loader and swaps them in. Concurrent reloads share one load.
func (b *Bank) Reload(ctx context.Context, loader Loader) error {
	_, err, _ := b.sf.Do("reload", func() (interface{}, error) {
		sets, err := loader.LoadQuestionSets(ctx)
		if err != nil {
			return nil, fmt.Errorf("load question sets: %w", err)
		}
		return nil, b.Load(sets...)
	})
	return err
}

// Topics returns topic names in declaration order.
func (b *Bank) Topics() []string {
	c := b.current.Load()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Get returns the question set for a topic.
func (b *Bank) Get(topic string) (domain.QuestionSet, error) {
	set, ok := b.current.Load().sets[topic]
	if !ok {
		return domain.QuestionSet{}, fmt.Errorf("%w: %q", domain.ErrUnknownTopic, topic)
	}
	return set, nil
}

// DelayFor returns how long a question of the topic waits for an answer.
func (b *Bank) DelayFor(topic string) time.Duration {
	set, ok := b.current.Load().sets[topic]
	if !ok || set.Delay <= 0 {
		return b.defaultDelay
	}
	return time.Duration(set.Delay) * time.Second
}

// cloneSet copies slices so callers cannot mutate loaded sets.
func cloneSet(set domain.QuestionSet) domain.QuestionSet {
	qs := make([]domain.Question, len(set.Questions))
	for i, q := range set.Questions {
		opts := make([]string, len(q.Options))
		copy(opts, q.Options)
		qs[i] = domain.Question{Prompt: q.Prompt, Options: opts, Answer: q.Answer}
	}
	set.Questions = qs
	return set
}
