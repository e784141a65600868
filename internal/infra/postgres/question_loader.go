package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizbot-service/internal/domain"
)

// Querier is the subset of pgxpool.Pool used by QuestionLoader.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// QuestionLoader loads question sets stored as JSONB rows, ordered by position.
type QuestionLoader struct {
	db Querier
}

func NewQuestionLoader(db Querier) *QuestionLoader {
	return &QuestionLoader{db: db}
}

func (l *QuestionLoader) LoadQuestionSets(ctx context.Context) ([]domain.QuestionSet, error) {
	rows, err := l.db.Query(ctx, `SELECT topic, delay_seconds, questions FROM question_sets ORDER BY position, topic`)
	if err != nil {
		return nil, fmt.Errorf("query question sets: %w", err)
	}
	defer rows.Close()

	var sets []domain.QuestionSet
	for rows.Next() {
		var (
			set domain.QuestionSet
			raw []byte
		)
		if err := rows.Scan(&set.Topic, &set.Delay, &raw); err != nil {
			return nil, fmt.Errorf("scan question set: %w", err)
		}
		if err := json.Unmarshal(raw, &set.Questions); err != nil {
			return nil, fmt.Errorf("%w %q: unmarshal questions: %w", domain.ErrMalformedQuestionSet, set.Topic, err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question sets: %w", err)
	}
	return sets, nil
}
