package app

import (
	"math/rand"
	"sync"
	"time"

	"quizbot-service/internal/domain"
)

// Player is the per-user record of the registry. Its mutex serializes every mutation of the
// user's quiz: commands, answers and timeouts for one user never interleave.
type Player struct {
	mu      sync.Mutex
	user    domain.User
	phase   domain.Phase
	topic   string
	session *Session
}

// NewPlayer is exported for infrastructure layers that own the registry map.
func NewPlayer(userID string) *Player {
	return &Player{user: domain.User{ID: userID}}
}

// Session is one user's walk through a shuffled question sequence.
type Session struct {
	id        string
	topic     string
	delay     time.Duration
	questions []domain.Question
	index     int
	correct   int
	total     int
	seq       int
	suspended bool

	outstanding *outstanding
}

// outstanding is the question currently waiting for an answer or a timeout.
type outstanding struct {
	token    string
	question domain.Question
	answered bool
}

func (s *Session) done() bool {
	return s.index >= len(s.questions)
}

func (s *Session) summary(phase domain.Phase) domain.Summary {
	return domain.Summary{
		Topic:      s.topic,
		Correct:    s.correct,
		Total:      s.total,
		Questions:  len(s.questions),
		Percentage: domain.Percentage(s.correct, s.total),
		Phase:      phase,
	}
}

// current returns the outstanding question if token matches it and it is still unresolved.
func (s *Session) current(token string) (*outstanding, string) {
	o := s.outstanding
	switch {
	case o == nil:
		return nil, "no outstanding question"
	case o.token != token:
		return nil, "superseded token"
	case o.answered:
		return nil, "already resolved"
	}
	return o, ""
}

// shuffleQuestions returns a session-local copy with questions and their options permuted.
// The correct index of every question is remapped to the option's new position.
func shuffleQuestions(rnd *rand.Rand, qs []domain.Question) []domain.Question {
	out := make([]domain.Question, len(qs))
	for i, p := range rnd.Perm(len(qs)) {
		out[i] = shuffleOptions(rnd, qs[p])
	}
	return out
}

func shuffleOptions(rnd *rand.Rand, q domain.Question) domain.Question {
	opts := make([]string, len(q.Options))
	answer := 0
	for i, p := range rnd.Perm(len(q.Options)) {
		opts[i] = q.Options[p]
		if p == q.Answer {
			answer = i
		}
	}
	return domain.Question{Prompt: q.Prompt, Options: opts, Answer: answer}
}
