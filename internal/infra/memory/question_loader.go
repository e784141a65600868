package memory

import (
	"context"

	"quizbot-service/internal/domain"
)

// StaticLoader is a simple loader backed by a fixed slice (useful for tests/demos).
type StaticLoader struct {
	sets []domain.QuestionSet
}

func NewStaticLoader(sets ...domain.QuestionSet) *StaticLoader {
	return &StaticLoader{sets: sets}
}

func (l *StaticLoader) LoadQuestionSets(_ context.Context) ([]domain.QuestionSet, error) {
	out := make([]domain.QuestionSet, len(l.sets))
	copy(out, l.sets)
	return out, nil
}
