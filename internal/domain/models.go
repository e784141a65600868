package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultDelay is used for topics that do not declare their own delay.
const DefaultDelay = 15 * time.Second

// Question models a multiple choice question with exactly one correct option.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Validate reports every problem with the question.
func (q Question) Validate() error {
	var errs []error
	if strings.TrimSpace(q.Prompt) == "" {
		errs = append(errs, errors.New("missing prompt"))
	}
	if len(q.Options) < 2 {
		errs = append(errs, fmt.Errorf("need at least 2 options, got %d", len(q.Options)))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			errs = append(errs, fmt.Errorf("option %d is empty", i))
		}
	}
	if q.Answer < 0 || q.Answer >= len(q.Options) {
		errs = append(errs, fmt.Errorf("answer index %d out of range", q.Answer))
	}
	return errors.Join(errs...)
}

// QuestionSet is the immutable list of questions for one topic.
type QuestionSet struct {
	Topic     string     `json:"topic"`
	Delay     int        `json:"delay"` // seconds, defaults to DefaultDelay if zero
	Questions []Question `json:"questions"`
}

// Validate wraps every problem found in the set with ErrMalformedQuestionSet.
func (s QuestionSet) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Topic) == "" {
		errs = append(errs, errors.New("missing topic"))
	}
	if s.Delay < 0 {
		errs = append(errs, fmt.Errorf("negative delay %d", s.Delay))
	}
	for i, q := range s.Questions {
		if err := q.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("question %d: %w", i+1, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrMalformedQuestionSet, s.Topic, errors.Join(errs...))
}

// User identifies a chat user as reported by the transport.
type User struct {
	ID   string
	Name string
}

// Phase is the lifecycle state of a user's quiz.
type Phase int

const (
	PhaseNoTopic Phase = iota
	PhaseTopicSelected
	PhaseActive
	PhaseCompleted
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseNoTopic:
		return "no_topic"
	case PhaseTopicSelected:
		return "topic_selected"
	case PhaseActive:
		return "active"
	case PhaseCompleted:
		return "completed"
	case PhaseStopped:
		return "stopped"
	}
	return "unknown"
}

// RenderedQuestion is what the Messenger shows for an outstanding question.
type RenderedQuestion struct {
	Token   string   `json:"token"`
	Number  int      `json:"number"`
	Total   int      `json:"total"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// Choice is a button offered through Messenger.PresentChoice.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

const (
	ChoiceContinue = "continue"
	ChoiceStop     = "stop"
)

// Summary is the final score of a completed or stopped session.
type Summary struct {
	Topic      string `json:"topic"`
	Correct    int    `json:"correct"`
	Total      int    `json:"total"`
	Questions  int    `json:"questions"`
	Percentage int    `json:"percentage"`
	Phase      Phase  `json:"-"`
}

// Percentage returns round(correct/total*100), or 0 when nothing was answered.
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// Progress is a read-only view of a user's quiz state.
type Progress struct {
	UserID    string
	Phase     Phase
	Topic     string
	Index     int
	Questions int
	Correct   int
	Total     int
	Token     string
	Seq       int
	Suspended bool
}

// UserStats are the accumulated answer counters of one user.
type UserStats struct {
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Correct int    `json:"correct"`
	Total   int    `json:"total"`
}

// TopicUsage counts how many sessions were started for a topic.
type TopicUsage struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// StatsSnapshot is the reporting view of the score tracker.
type StatsSnapshot struct {
	Users       []UserStats  `json:"users"`
	Topics      []TopicUsage `json:"topics"`
	UniqueUsers int          `json:"uniqueUsers"`
}
