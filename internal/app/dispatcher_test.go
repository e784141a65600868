package app_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizbot-service/internal/app"
	"quizbot-service/internal/bank"
	"quizbot-service/internal/domain"
	"quizbot-service/internal/infra/memory"
	"quizbot-service/internal/scheduler"
	"quizbot-service/internal/telemetry"
)

var alice = domain.User{ID: "u1", Name: "Alice"}

func TestDispatcher_AnswerThenTimeoutScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())

	require.NoError(t, h.d.SelectTopic(ctx, alice, "math"))
	require.NoError(t, h.d.StartSession(ctx, alice.ID))

	q1 := h.msg.lastQuestion(t, alice.ID)
	assert.Equal(t, 1, q1.Number)
	assert.Equal(t, 2, q1.Total)
	assert.Equal(t, q1.Token, h.sched.armedToken(alice.ID))
	assert.Equal(t, 15*time.Second, h.sched.delay(alice.ID))

	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q1.Token, correctIndex(t, mathSet(), q1)))

	q2 := h.msg.lastQuestion(t, alice.ID)
	assert.Equal(t, 2, q2.Number)
	assert.NotEqual(t, q1.Token, q2.Token)

	h.d.OnTimeout(ctx, alice.ID, q2.Token)

	pr, ok := h.d.Progress(alice.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseCompleted, pr.Phase)
	assert.Empty(t, pr.Token)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Score: 50%")
	assert.Empty(t, h.players.Active())

	snap, err := h.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserStats{{UserID: "u1", Name: "Alice", Correct: 1, Total: 2}}, snap.Users)
	assert.Equal(t, []domain.TopicUsage{{Topic: "math", Count: 1}}, snap.Topics)
}

func TestDispatcher_DuplicateAnswerCountedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())
	h.start(t, alice)

	q1 := h.msg.lastQuestion(t, alice.ID)
	right := correctIndex(t, mathSet(), q1)
	wrong := (right + 1) % len(q1.Options)

	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q1.Token, wrong))
	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q1.Token, right))

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, 1, pr.Index)
	assert.Equal(t, 1, pr.Total)
	assert.Equal(t, 0, pr.Correct)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StaleEvents.WithLabelValues("answer")))
}

func TestDispatcher_StaleTokenIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())
	h.start(t, alice)

	before, _ := h.d.Progress(alice.ID)
	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, "bogus", 0))
	h.d.OnTimeout(ctx, alice.ID, "bogus")
	after, _ := h.d.Progress(alice.ID)

	assert.Equal(t, before, after)
	snap, err := h.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserStats{{UserID: "u1", Name: "Alice"}}, snap.Users, "no answers recorded")

	// events for users the registry never saw are ignored too
	require.NoError(t, h.d.OnAnswer(ctx, "ghost", "t1", 0))
	h.d.OnTimeout(ctx, "ghost", "t1")
}

func TestDispatcher_StopMidSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())
	h.start(t, alice)

	q1 := h.msg.lastQuestion(t, alice.ID)
	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q1.Token, correctIndex(t, mathSet(), q1)))
	q2 := h.msg.lastQuestion(t, alice.ID)

	sum, err := h.d.Stop(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Topic: "math", Correct: 1, Total: 1, Questions: 2, Percentage: 100, Phase: domain.PhaseStopped}, sum)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Quiz stopped.")
	assert.Empty(t, h.sched.armedToken(alice.ID), "stop cancels the timer")

	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q2.Token, 0))
	h.d.OnTimeout(ctx, alice.ID, q2.Token)

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseStopped, pr.Phase)
	snap, _ := h.stats.Snapshot(ctx)
	assert.Equal(t, 1, snap.Users[0].Total)

	_, err = h.d.Stop(ctx, alice.ID)
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
	assert.Equal(t, "There is no quiz in progress.", h.msg.lastText(t, alice.ID))
}

func TestDispatcher_StartedUserCountedWithoutAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())
	h.start(t, alice)

	_, err := h.d.Stop(ctx, alice.ID)
	require.NoError(t, err)

	snap, err := h.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.UniqueUsers)
	assert.Equal(t, []domain.UserStats{{UserID: "u1", Name: "Alice"}}, snap.Users)
	assert.Equal(t, []domain.TopicUsage{{Topic: "math", Count: 1}}, snap.Topics)
}

func TestDispatcher_ReselectDiscardsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet(), historySet())
	h.start(t, alice)

	q1 := h.msg.lastQuestion(t, alice.ID)
	require.NoError(t, h.d.SelectTopic(ctx, alice, "history"))
	assert.Empty(t, h.sched.armedToken(alice.ID))
	assert.Empty(t, h.players.Active())

	h.d.OnTimeout(ctx, alice.ID, q1.Token)
	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q1.Token, 0))

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseTopicSelected, pr.Phase)
	assert.Equal(t, "history", pr.Topic)
	assert.Zero(t, pr.Total)

	snap, _ := h.stats.Snapshot(ctx)
	assert.Equal(t, []domain.UserStats{{UserID: "u1", Name: "Alice"}}, snap.Users)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Sessions.WithLabelValues("discarded")))

	// the new topic starts cleanly
	require.NoError(t, h.d.StartSession(ctx, alice.ID))
	pr, _ = h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseActive, pr.Phase)
	assert.Equal(t, 1, pr.Questions)
}

func TestDispatcher_LifecycleMisuse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())

	err := h.d.StartSession(ctx, alice.ID)
	require.ErrorIs(t, err, domain.ErrTopicNotSelected)
	assert.Equal(t, "Choose a topic first.", h.msg.lastText(t, alice.ID))

	err = h.d.SelectTopic(ctx, alice, "chemistry")
	require.ErrorIs(t, err, domain.ErrUnknownTopic)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Unknown topic")
	_, ok := h.d.Progress(alice.ID)
	assert.False(t, ok, "unknown topic leaves no state behind")

	_, err = h.d.Stop(ctx, alice.ID)
	require.ErrorIs(t, err, domain.ErrNoActiveSession)

	h.start(t, alice)
	first, _ := h.d.Progress(alice.ID)

	err = h.d.StartSession(ctx, alice.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyActive)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "already in progress")

	again, _ := h.d.Progress(alice.ID)
	assert.Equal(t, first, again, "repeated start must not restart the session")
}

func TestDispatcher_StartAfterCompletionNeedsNewSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())
	h.start(t, alice)
	h.answerAll(t, mathSet(), alice.ID, true)

	pr, _ := h.d.Progress(alice.ID)
	require.Equal(t, domain.PhaseCompleted, pr.Phase)

	require.ErrorIs(t, h.d.StartSession(ctx, alice.ID), domain.ErrTopicNotSelected)

	require.NoError(t, h.d.SelectTopic(ctx, alice, "math"))
	require.NoError(t, h.d.StartSession(ctx, alice.ID))
}

func TestDispatcher_EmptyTopicCompletesWithZeroPercent(t *testing.T) {
	h := newHarness(t, app.PolicyAdvance, domain.QuestionSet{Topic: "empty"})
	h.start(t, alice)

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseCompleted, pr.Phase)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Score: 0%")
	assert.Empty(t, h.msg.questionsFor(alice.ID))
}

func TestDispatcher_ShuffledCorrectOptionIsOriginal(t *testing.T) {
	set := domain.QuestionSet{Topic: "big"}
	for i := 0; i < 20; i++ {
		set.Questions = append(set.Questions, domain.Question{
			Prompt:  fmt.Sprintf("question %d", i),
			Options: []string{fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i), fmt.Sprintf("c%d", i), fmt.Sprintf("d%d", i)},
			Answer:  i % 4,
		})
	}

	for seed := int64(1); seed <= 5; seed++ {
		h := newHarness(t, app.PolicyAdvance, set, withSeed(seed))
		h.start(t, alice)
		h.answerAll(t, set, alice.ID, true)

		snap, err := h.stats.Snapshot(context.Background())
		require.NoError(t, err)
		require.Equal(t, 20, snap.Users[0].Correct, "seed %d", seed)

		seen := map[string]bool{}
		for _, q := range h.msg.questionsFor(alice.ID) {
			seen[q.Prompt] = true
		}
		assert.Len(t, seen, 20, "every question is asked exactly once")
	}
}

func TestDispatcher_CompletionArithmetic(t *testing.T) {
	tests := map[string]struct {
		correct int
		want    int
	}{
		"all correct":   {correct: 3, want: 100},
		"two of three":  {correct: 2, want: 67},
		"one of three":  {correct: 1, want: 33},
		"none answered": {correct: 0, want: 0},
	}

	set := domain.QuestionSet{
		Topic: "three",
		Questions: []domain.Question{
			{Prompt: "q1", Options: []string{"x", "y"}, Answer: 0},
			{Prompt: "q2", Options: []string{"x", "y"}, Answer: 1},
			{Prompt: "q3", Options: []string{"x", "y"}, Answer: 0},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, app.PolicyAdvance, set)
			h.start(t, alice)

			for i := 0; i < 3; i++ {
				q := h.msg.lastQuestion(t, alice.ID)
				if i < tt.correct {
					require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q.Token, correctIndex(t, set, q)))
				} else {
					h.d.OnTimeout(ctx, alice.ID, q.Token)
				}
			}

			assert.Contains(t, h.msg.lastText(t, alice.ID), fmt.Sprintf("Score: %d%%", tt.want))
		})
	}
}

func TestDispatcher_OptionOutOfRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())
	h.start(t, alice)

	q1 := h.msg.lastQuestion(t, alice.ID)
	err := h.d.OnAnswer(ctx, alice.ID, q1.Token, len(q1.Options))
	require.ErrorIs(t, err, domain.ErrOptionNotFound)
	err = h.d.OnAnswer(ctx, alice.ID, q1.Token, -1)
	require.ErrorIs(t, err, domain.ErrOptionNotFound)

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, 0, pr.Index)
	assert.Equal(t, q1.Token, pr.Token)
}

func TestDispatcher_ConfirmPolicy(t *testing.T) {
	ctx := context.Background()
	set := domain.QuestionSet{
		Topic: "three",
		Questions: []domain.Question{
			{Prompt: "q1", Options: []string{"x", "y"}, Answer: 0},
			{Prompt: "q2", Options: []string{"x", "y"}, Answer: 1},
			{Prompt: "q3", Options: []string{"x", "y"}, Answer: 0},
		},
	}
	h := newHarness(t, app.PolicyConfirm, set)
	h.start(t, alice)

	q1 := h.msg.lastQuestion(t, alice.ID)
	h.sched.fired(alice.ID)
	h.d.OnTimeout(ctx, alice.ID, q1.Token)

	pr, _ := h.d.Progress(alice.ID)
	assert.True(t, pr.Suspended)
	assert.Equal(t, 1, pr.Index)
	assert.Equal(t, 1, pr.Total)
	assert.Len(t, h.msg.questionsFor(alice.ID), 1, "no question while suspended")
	assert.Empty(t, h.sched.armedToken(alice.ID), "no timer while suspended")
	assert.Equal(t, []string{domain.ChoiceContinue, domain.ChoiceStop}, h.msg.lastChoice(t, alice.ID))

	// A second timeout for the same token changes nothing.
	h.d.OnTimeout(ctx, alice.ID, q1.Token)
	again, _ := h.d.Progress(alice.ID)
	assert.Equal(t, pr, again)

	require.NoError(t, h.d.Continue(ctx, alice.ID))
	require.NoError(t, h.d.Continue(ctx, alice.ID), "duplicate continue is a no-op")
	assert.Len(t, h.msg.questionsFor(alice.ID), 2)
	q2 := h.msg.lastQuestion(t, alice.ID)
	assert.Equal(t, q2.Token, h.sched.armedToken(alice.ID))

	// stop choice without a pending prompt is ignored
	require.NoError(t, h.d.StopChoice(ctx, alice.ID))
	pr, _ = h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseActive, pr.Phase)

	require.NoError(t, h.d.OnAnswer(ctx, alice.ID, q2.Token, correctIndex(t, set, q2)))
	q3 := h.msg.lastQuestion(t, alice.ID)

	// Timing out the last question completes without a prompt.
	h.d.OnTimeout(ctx, alice.ID, q3.Token)
	pr, _ = h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseCompleted, pr.Phase)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Score: 33%")

	require.ErrorIs(t, h.d.Continue(ctx, alice.ID), domain.ErrNoActiveSession)
}

func TestDispatcher_ConfirmPolicyStopChoice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyConfirm, mathSet())
	h.start(t, alice)

	q1 := h.msg.lastQuestion(t, alice.ID)
	h.d.OnTimeout(ctx, alice.ID, q1.Token)
	require.NoError(t, h.d.StopChoice(ctx, alice.ID))

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseStopped, pr.Phase)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Quiz stopped.")
}

func TestDispatcher_AnswerTimeoutRace(t *testing.T) {
	ctx := context.Background()
	set := domain.QuestionSet{Topic: "long"}
	for i := 0; i < 50; i++ {
		set.Questions = append(set.Questions, domain.Question{
			Prompt: fmt.Sprintf("q%d", i), Options: []string{"x", "y"}, Answer: 0,
		})
	}
	h := newHarness(t, app.PolicyAdvance, set)
	h.start(t, alice)

	for i := 0; i < 50; i++ {
		q := h.msg.lastQuestion(t, alice.ID)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = h.d.OnAnswer(ctx, alice.ID, q.Token, 0)
			}()
			go func() {
				defer wg.Done()
				h.d.OnTimeout(ctx, alice.ID, q.Token)
			}()
		}
		wg.Wait()

		pr, _ := h.d.Progress(alice.ID)
		if i < 49 {
			require.Equal(t, i+1, pr.Index, "index advances exactly once per token")
			require.Equal(t, i+1, pr.Total)
		} else {
			require.Equal(t, domain.PhaseCompleted, pr.Phase)
		}
	}

	snap, _ := h.stats.Snapshot(ctx)
	assert.Equal(t, 50, snap.Users[0].Total)
}

func TestDispatcher_UsersRunIndependently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := domain.User{ID: fmt.Sprintf("user-%d", i), Name: fmt.Sprintf("User %d", i)}
			assert.NoError(t, h.d.SelectTopic(ctx, u, "math"))
			assert.NoError(t, h.d.StartSession(ctx, u.ID))
			for n := 0; n < 2; n++ {
				q := h.msg.lastQuestion(t, u.ID)
				assert.NoError(t, h.d.OnAnswer(ctx, u.ID, q.Token, correctIndex(t, mathSet(), q)))
			}
		}(i)
	}
	wg.Wait()

	snap, err := h.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, snap.UniqueUsers)
	for _, u := range snap.Users {
		assert.Equal(t, 2, u.Correct)
	}
	assert.Equal(t, []domain.TopicUsage{{Topic: "math", Count: 20}}, snap.Topics)
}

func TestDispatcher_RunAppliesSchedulerExpiries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &manualClock{}
	sched := scheduler.New(scheduler.WithAfterFunc(clock.AfterFunc))
	defer sched.Close()

	h := newHarness(t, app.PolicyAdvance, mathSet(), withScheduler(sched))

	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx, sched.Expired()) }()

	h.start(t, alice)
	clock.fireLast()
	require.Eventually(t, func() bool {
		return clock.count() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.msg.questionsFor(alice.ID), 2)

	clock.fireLast()
	require.Eventually(t, func() bool {
		pr, _ := h.d.Progress(alice.ID)
		return pr.Phase == domain.PhaseCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.msg.lastText(t, alice.ID), "Score: 0%")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcher_Handle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.PolicyAdvance, mathSet())

	require.NoError(t, h.d.Handle(ctx, domain.EventTopicSelected{User: alice, Topic: "math"}))
	require.NoError(t, h.d.Handle(ctx, domain.EventStartRequested{UserID: alice.ID}))

	q1 := h.msg.lastQuestion(t, alice.ID)
	require.NoError(t, h.d.Handle(ctx, domain.EventAnswerReceived{UserID: alice.ID, Token: q1.Token, Option: 0}))
	q2 := h.msg.lastQuestion(t, alice.ID)
	require.NoError(t, h.d.Handle(ctx, domain.EventTimeoutExpired{UserID: alice.ID, Token: q2.Token}))

	pr, _ := h.d.Progress(alice.ID)
	assert.Equal(t, domain.PhaseCompleted, pr.Phase)

	require.ErrorIs(t, h.d.Handle(ctx, domain.EventStopRequested{UserID: alice.ID}), domain.ErrNoActiveSession)
	require.ErrorIs(t, h.d.Handle(ctx, domain.EventContinueChosen{UserID: alice.ID}), domain.ErrNoActiveSession)
	require.ErrorIs(t, h.d.Handle(ctx, domain.EventStopChosen{UserID: alice.ID}), domain.ErrNoActiveSession)
}

func TestParsePolicy(t *testing.T) {
	p, err := app.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, app.PolicyAdvance, p)

	p, err = app.ParsePolicy("confirm")
	require.NoError(t, err)
	assert.Equal(t, app.PolicyConfirm, p)

	_, err = app.ParsePolicy("retry")
	require.Error(t, err)
}

type harness struct {
	d       *app.Dispatcher
	msg     *recordingMessenger
	sched   *fakeScheduler
	stats   *memory.ScoreTracker
	players *memory.PlayerStore
	metrics *telemetry.Metrics
}

type harnessOption func(*app.Config)

func withSeed(seed int64) harnessOption {
	return func(c *app.Config) { c.Rand = rand.New(rand.NewSource(seed)) }
}

func withScheduler(s app.Scheduler) harnessOption {
	return func(c *app.Config) { c.Scheduler = s }
}

func newHarness(t *testing.T, policy app.TimeoutPolicy, sets ...any) *harness {
	t.Helper()

	b := bank.New(0)
	var qs []domain.QuestionSet
	var opts []harnessOption
	for _, s := range sets {
		switch v := s.(type) {
		case domain.QuestionSet:
			qs = append(qs, v)
		case harnessOption:
			opts = append(opts, v)
		}
	}
	require.NoError(t, b.Load(qs...))

	var n atomic.Int64
	h := &harness{
		msg:     newRecordingMessenger(),
		sched:   newFakeScheduler(),
		stats:   memory.NewScoreTracker(),
		players: memory.NewPlayerStore(),
		metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	c := app.Config{
		Bank:      b,
		Players:   h.players,
		Scheduler: h.sched,
		Messenger: h.msg,
		Stats:     h.stats,
		Policy:    policy,
		Metrics:   h.metrics,
		Rand:      rand.New(rand.NewSource(42)),
		NewToken:  func() string { return fmt.Sprintf("t%d", n.Add(1)) },
	}
	for _, opt := range opts {
		opt(&c)
	}
	h.d = app.NewDispatcher(c)
	return h
}

func (h *harness) start(t *testing.T, u domain.User) {
	t.Helper()
	ctx := context.Background()
	topic := h.d.Topics()[0]
	require.NoError(t, h.d.SelectTopic(ctx, u, topic))
	require.NoError(t, h.d.StartSession(ctx, u.ID))
}

func (h *harness) answerAll(t *testing.T, set domain.QuestionSet, userID string, correct bool) {
	t.Helper()
	for {
		pr, _ := h.d.Progress(userID)
		if pr.Phase != domain.PhaseActive {
			return
		}
		q := h.msg.lastQuestion(t, userID)
		idx := correctIndex(t, set, q)
		if !correct {
			idx = (idx + 1) % len(q.Options)
		}
		require.NoError(t, h.d.OnAnswer(context.Background(), userID, q.Token, idx))
	}
}

// correctIndex finds where the original correct option ended up in the rendered question.
func correctIndex(t *testing.T, set domain.QuestionSet, q domain.RenderedQuestion) int {
	t.Helper()
	for _, orig := range set.Questions {
		if orig.Prompt != q.Prompt {
			continue
		}
		want := orig.Options[orig.Answer]
		for i, opt := range q.Options {
			if opt == want {
				return i
			}
		}
	}
	t.Fatalf("question %q not found in set %q", q.Prompt, set.Topic)
	return -1
}

func mathSet() domain.QuestionSet {
	return domain.QuestionSet{
		Topic: "math",
		Questions: []domain.Question{
			{Prompt: "2 + 2?", Options: []string{"3", "4", "5"}, Answer: 1},
			{Prompt: "3 * 3?", Options: []string{"9", "6", "12"}, Answer: 0},
		},
	}
}

func historySet() domain.QuestionSet {
	return domain.QuestionSet{
		Topic: "history",
		Questions: []domain.Question{
			{Prompt: "Year WW2 ended?", Options: []string{"1944", "1945"}, Answer: 1},
		},
	}
}

type recordingMessenger struct {
	mu        sync.Mutex
	questions map[string][]domain.RenderedQuestion
	texts     map[string][]string
	choices   map[string][][]string
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{
		questions: make(map[string][]domain.RenderedQuestion),
		texts:     make(map[string][]string),
		choices:   make(map[string][][]string),
	}
}

func (m *recordingMessenger) SendQuestion(_ context.Context, userID string, q domain.RenderedQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[userID] = append(m.questions[userID], q)
	return nil
}

func (m *recordingMessenger) SendText(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[userID] = append(m.texts[userID], text)
	return nil
}

func (m *recordingMessenger) PresentChoice(_ context.Context, userID, _ string, options []domain.Choice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.ID)
	}
	m.choices[userID] = append(m.choices[userID], ids)
	return nil
}

func (m *recordingMessenger) questionsFor(userID string) []domain.RenderedQuestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RenderedQuestion(nil), m.questions[userID]...)
}

func (m *recordingMessenger) lastQuestion(t *testing.T, userID string) domain.RenderedQuestion {
	t.Helper()
	qs := m.questionsFor(userID)
	require.NotEmpty(t, qs, "no question sent to %s", userID)
	return qs[len(qs)-1]
}

func (m *recordingMessenger) lastText(t *testing.T, userID string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := m.texts[userID]
	require.NotEmpty(t, texts, "no text sent to %s", userID)
	return strings.TrimSpace(texts[len(texts)-1])
}

func (m *recordingMessenger) lastChoice(t *testing.T, userID string) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.choices[userID]
	require.NotEmpty(t, cs, "no choice presented to %s", userID)
	return cs[len(cs)-1]
}

// fakeScheduler records armed tokens without ever firing.
type fakeScheduler struct {
	mu     sync.Mutex
	armed  map[string]string
	delays map[string]time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[string]string), delays: make(map[string]time.Duration)}
}

func (s *fakeScheduler) Arm(userID, token string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[userID] = token
	s.delays[userID] = delay
}

func (s *fakeScheduler) Cancel(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, userID)
}

// fired simulates the timer going off: the scheduler forgets it.
func (s *fakeScheduler) fired(userID string) {
	s.Cancel(userID)
}

func (s *fakeScheduler) armedToken(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed[userID]
}

func (s *fakeScheduler) delay(userID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[userID]
}

type manualClock struct {
	mu    sync.Mutex
	funcs []func()
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) scheduler.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
	return stopper{}
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.funcs)
}

func (c *manualClock) fireLast() {
	c.mu.Lock()
	f := c.funcs[len(c.funcs)-1]
	c.mu.Unlock()
	f()
}

type stopper struct{}

func (stopper) Stop() bool { return true }
