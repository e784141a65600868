package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizbot-service/internal/domain"
	"quizbot-service/internal/telemetry"
)

// QuestionBank provides the loaded question sets.
type QuestionBank interface {
	Topics() []string
	Get(topic string) (domain.QuestionSet, error)
	DelayFor(topic string) time.Duration
}

// PlayerRepository abstracts where per-user records live (in-memory, Redis-backed, etc).
type PlayerRepository interface {
	GetOrCreate(userID string) *Player
	Get(userID string) (*Player, bool)
	// SetActive marks whether the user currently has a session in progress.
	SetActive(userID, topic string, active bool)
	Active() []string
}

// Scheduler arms one timeout per user. Cancel is best-effort.
type Scheduler interface {
	Arm(userID, token string, delay time.Duration)
	Cancel(userID string)
}

// Messenger delivers output to a chat user. Delivery is fire-and-forget.
type Messenger interface {
	SendQuestion(ctx context.Context, userID string, q domain.RenderedQuestion) error
	SendText(ctx context.Context, userID, text string) error
	PresentChoice(ctx context.Context, userID, prompt string, options []domain.Choice) error
}

// ScoreTracker aggregates usage and answer statistics.
type ScoreTracker interface {
	// RecordUser counts the user as having started a quiz, answered or not.
	RecordUser(ctx context.Context, user domain.User) error
	RecordUsage(ctx context.Context, topic string) error
	RecordAnswer(ctx context.Context, user domain.User, correct bool) error
	Snapshot(ctx context.Context) (domain.StatsSnapshot, error)
}

// TimeoutPolicy decides what happens when a question times out.
type TimeoutPolicy string

const (
	// PolicyAdvance counts the question as unanswered and sends the next one.
	PolicyAdvance TimeoutPolicy = "advance"
	// PolicyConfirm counts the question as unanswered and asks the user whether to go on.
	PolicyConfirm TimeoutPolicy = "confirm"
)

// ParsePolicy parses a configured policy name. Empty means PolicyAdvance.
func ParsePolicy(raw string) (TimeoutPolicy, error) {
	switch TimeoutPolicy(raw) {
	case "", PolicyAdvance:
		return PolicyAdvance, nil
	case PolicyConfirm:
		return PolicyConfirm, nil
	}
	return "", fmt.Errorf("unknown timeout policy %q", raw)
}

type Config struct {
	Bank      QuestionBank
	Players   PlayerRepository
	Scheduler Scheduler
	Messenger Messenger
	Stats     ScoreTracker
	Policy    TimeoutPolicy
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	// Rand drives question and option shuffles; seeded from the clock if nil.
	Rand *rand.Rand
	// NewToken mints outstanding-question tokens; uuid strings if nil.
	NewToken func() string
}

// Dispatcher is the quiz state machine. It owns every session mutation.
type Dispatcher struct {
	bank     QuestionBank
	players  PlayerRepository
	sched    Scheduler
	msg      Messenger
	stats    ScoreTracker
	policy   TimeoutPolicy
	metrics  *telemetry.Metrics
	log      *slog.Logger
	newToken func() string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewDispatcher(c Config) *Dispatcher {
	d := &Dispatcher{
		bank:     c.Bank,
		players:  c.Players,
		sched:    c.Scheduler,
		msg:      c.Messenger,
		stats:    c.Stats,
		policy:   c.Policy,
		metrics:  c.Metrics,
		log:      c.Logger,
		newToken: c.NewToken,
		rnd:      c.Rand,
	}
	if d.policy == "" {
		d.policy = PolicyAdvance
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.newToken == nil {
		d.newToken = uuid.NewString
	}
	if d.rnd == nil {
		d.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d
}

// Run applies scheduler expiries until ctx is done or the channel is closed.
func (d *Dispatcher) Run(ctx context.Context, expired <-chan domain.EventTimeoutExpired) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-expired:
			if !ok {
				return nil
			}
			d.OnTimeout(ctx, ev.UserID, ev.Token)
		}
	}
}

// Handle routes an inbound event to the matching operation.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.EventTopicSelected:
		return d.SelectTopic(ctx, e.User, e.Topic)
	case domain.EventStartRequested:
		return d.StartSession(ctx, e.UserID)
	case domain.EventStopRequested:
		_, err := d.Stop(ctx, e.UserID)
		return err
	case domain.EventAnswerReceived:
		return d.OnAnswer(ctx, e.UserID, e.Token, e.Option)
	case domain.EventContinueChosen:
		return d.Continue(ctx, e.UserID)
	case domain.EventStopChosen:
		return d.StopChoice(ctx, e.UserID)
	case domain.EventTimeoutExpired:
		d.OnTimeout(ctx, e.UserID, e.Token)
		return nil
	}
	return fmt.Errorf("unsupported event %q", ev.Name())
}

// Topics lists the selectable topics in menu order.
func (d *Dispatcher) Topics() []string {
	return d.bank.Topics()
}

// SelectTopic chooses the topic for the user's next session. An active session is discarded.
func (d *Dispatcher) SelectTopic(ctx context.Context, user domain.User, topic string) error {
	if _, err := d.bank.Get(topic); err != nil {
		d.sendText(ctx, user.ID, fmt.Sprintf("Unknown topic %q.", topic))
		return err
	}

	p := d.players.GetOrCreate(user.ID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if user.Name != "" {
		p.user.Name = user.Name
	}
	if p.session != nil {
		d.discardLocked(ctx, p)
	}
	p.phase = domain.PhaseTopicSelected
	p.topic = topic

	d.sendText(ctx, user.ID, fmt.Sprintf("Topic %q selected. Send start to begin.", topic))
	return nil
}

// StartSession starts the selected topic with a fresh shuffle and emits the first question.
func (d *Dispatcher) StartSession(ctx context.Context, userID string) error {
	p, ok := d.players.Get(userID)
	if !ok {
		d.sendText(ctx, userID, "Choose a topic first.")
		return domain.ErrTopicNotSelected
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.phase {
	case domain.PhaseActive:
		d.sendText(ctx, userID, "A quiz is already in progress. Send stop to end it.")
		return domain.ErrAlreadyActive
	case domain.PhaseTopicSelected:
	default:
		d.sendText(ctx, userID, "Choose a topic first.")
		return domain.ErrTopicNotSelected
	}

	set, err := d.bank.Get(p.topic)
	if err != nil {
		// topic disappeared in a reload since it was selected
		d.sendText(ctx, userID, fmt.Sprintf("Unknown topic %q.", p.topic))
		return err
	}

	p.session = &Session{
		id:        uuid.NewString(),
		topic:     set.Topic,
		delay:     d.bank.DelayFor(set.Topic),
		questions: d.shuffle(set.Questions),
	}
	p.phase = domain.PhaseActive
	d.players.SetActive(userID, set.Topic, true)
	d.metrics.SessionStarted()

	if err := d.stats.RecordUser(ctx, p.user); err != nil {
		d.log.ErrorContext(ctx, "dispatcher: record user failed", "user", userID, "error", err)
	}
	if err := d.stats.RecordUsage(ctx, set.Topic); err != nil {
		d.log.ErrorContext(ctx, "dispatcher: record usage failed", "topic", set.Topic, "error", err)
	}

	d.log.InfoContext(ctx, "dispatcher: session started",
		"user", userID, "topic", set.Topic, "session", p.session.id, "questions", len(set.Questions))
	d.sendText(ctx, userID, fmt.Sprintf("Quiz %q started: %d questions.", set.Topic, len(set.Questions)))

	d.emitCurrentLocked(ctx, p)
	return nil
}

// OnAnswer resolves the outstanding question identified by token. Stale, duplicate and
// late answers are ignored without error.
func (d *Dispatcher) OnAnswer(ctx context.Context, userID, token string, option int) error {
	p, ok := d.players.Get(userID)
	if !ok {
		d.discarded(ctx, "answer", userID, token, "unknown user")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != domain.PhaseActive || p.session == nil {
		d.discarded(ctx, "answer", userID, token, "session not active")
		return nil
	}
	s := p.session
	o, reason := s.current(token)
	if o == nil {
		d.discarded(ctx, "answer", userID, token, reason)
		return nil
	}
	if option < 0 || option >= len(o.question.Options) {
		d.sendText(ctx, userID, "Please choose one of the listed options.")
		return fmt.Errorf("%w: %d", domain.ErrOptionNotFound, option)
	}

	o.answered = true
	correct := option == o.question.Answer
	s.total++
	if correct {
		s.correct++
	}
	s.index++

	d.metrics.ObserveAnswer(correct)
	if err := d.stats.RecordAnswer(ctx, p.user, correct); err != nil {
		d.log.ErrorContext(ctx, "dispatcher: record answer failed", "user", userID, "error", err)
	}

	d.emitCurrentLocked(ctx, p)
	return nil
}

// OnTimeout resolves the outstanding question as unanswered if token is still current.
func (d *Dispatcher) OnTimeout(ctx context.Context, userID, token string) {
	p, ok := d.players.Get(userID)
	if !ok {
		d.discarded(ctx, "timeout", userID, token, "unknown user")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != domain.PhaseActive || p.session == nil {
		d.discarded(ctx, "timeout", userID, token, "session not active")
		return
	}
	s := p.session
	o, reason := s.current(token)
	if o == nil {
		d.discarded(ctx, "timeout", userID, token, reason)
		return
	}

	o.answered = true
	s.total++
	s.index++

	d.metrics.ObserveTimeout(string(d.policy))
	if err := d.stats.RecordAnswer(ctx, p.user, false); err != nil {
		d.log.ErrorContext(ctx, "dispatcher: record timeout failed", "user", userID, "error", err)
	}

	if d.policy == PolicyConfirm && !s.done() {
		s.suspended = true
		d.sched.Cancel(userID)
		d.presentChoice(ctx, userID, "Time is up! Continue the quiz?", []domain.Choice{
			{ID: domain.ChoiceContinue, Label: "Continue"},
			{ID: domain.ChoiceStop, Label: "Stop"},
		})
		return
	}

	d.emitCurrentLocked(ctx, p)
}

// Continue resumes a session suspended by a timeout. Repeated choices are ignored.
func (d *Dispatcher) Continue(ctx context.Context, userID string) error {
	p, err := d.lockActive(ctx, userID)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if !p.session.suspended {
		return nil
	}
	p.session.suspended = false
	d.emitCurrentLocked(ctx, p)
	return nil
}

// StopChoice stops a session suspended by a timeout. Repeated choices are ignored.
func (d *Dispatcher) StopChoice(ctx context.Context, userID string) error {
	p, err := d.lockActive(ctx, userID)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	if !p.session.suspended {
		return nil
	}
	d.finishLocked(ctx, p, domain.PhaseStopped)
	return nil
}

// Stop ends the active session and returns its score.
func (d *Dispatcher) Stop(ctx context.Context, userID string) (domain.Summary, error) {
	p, err := d.lockActive(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	defer p.mu.Unlock()

	return d.finishLocked(ctx, p, domain.PhaseStopped), nil
}

// Progress reports the user's current quiz state.
func (d *Dispatcher) Progress(userID string) (domain.Progress, bool) {
	p, ok := d.players.Get(userID)
	if !ok {
		return domain.Progress{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pr := domain.Progress{
		UserID: userID,
		Phase:  p.phase,
		Topic:  p.topic,
	}
	if s := p.session; s != nil {
		pr.Index = s.index
		pr.Questions = len(s.questions)
		pr.Correct = s.correct
		pr.Total = s.total
		pr.Seq = s.seq
		pr.Suspended = s.suspended
		if s.outstanding != nil {
			pr.Token = s.outstanding.token
		}
	}
	return pr, true
}

// lockActive returns the user's player locked, or ErrNoActiveSession with nothing locked.
func (d *Dispatcher) lockActive(ctx context.Context, userID string) (*Player, error) {
	p, ok := d.players.Get(userID)
	if ok {
		p.mu.Lock()
		if p.phase == domain.PhaseActive && p.session != nil {
			return p, nil
		}
		p.mu.Unlock()
	}
	d.sendText(ctx, userID, "There is no quiz in progress.")
	return nil, domain.ErrNoActiveSession
}

// emitCurrentLocked sends the question at the session index, or completes the session.
func (d *Dispatcher) emitCurrentLocked(ctx context.Context, p *Player) {
	s := p.session
	if s.done() {
		d.finishLocked(ctx, p, domain.PhaseCompleted)
		return
	}

	q := s.questions[s.index]
	s.seq++
	o := &outstanding{
		token:    d.newToken(),
		question: q,
	}
	s.outstanding = o

	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	rendered := domain.RenderedQuestion{
		Token:   o.token,
		Number:  s.index + 1,
		Total:   len(s.questions),
		Prompt:  q.Prompt,
		Options: opts,
	}
	if err := d.msg.SendQuestion(ctx, p.user.ID, rendered); err != nil {
		d.log.WarnContext(ctx, "dispatcher: send question failed", "user", p.user.ID, "error", err)
	}
	d.metrics.ObserveQuestion()

	d.sched.Arm(p.user.ID, o.token, s.delay)
}

// finishLocked moves the session to a terminal phase and removes it.
func (d *Dispatcher) finishLocked(ctx context.Context, p *Player, phase domain.Phase) domain.Summary {
	s := p.session
	d.sched.Cancel(p.user.ID)
	s.outstanding = nil

	sum := s.summary(phase)
	p.phase = phase
	p.session = nil
	d.players.SetActive(p.user.ID, "", false)
	d.metrics.SessionEnded(phase.String())

	d.log.InfoContext(ctx, "dispatcher: session finished",
		"user", p.user.ID, "topic", sum.Topic, "session", s.id, "phase", phase.String(),
		"correct", sum.Correct, "total", sum.Total)
	d.sendText(ctx, p.user.ID, summaryText(sum))
	return sum
}

// discardLocked drops an active session without a summary; its token becomes stale.
func (d *Dispatcher) discardLocked(ctx context.Context, p *Player) {
	s := p.session
	d.sched.Cancel(p.user.ID)
	s.outstanding = nil
	p.session = nil
	d.players.SetActive(p.user.ID, "", false)
	d.metrics.SessionEnded("discarded")

	d.log.InfoContext(ctx, "dispatcher: session discarded", "user", p.user.ID, "topic", s.topic, "session", s.id)
}

func (d *Dispatcher) discarded(ctx context.Context, kind, userID, token, reason string) {
	d.metrics.ObserveStale(kind)
	d.log.DebugContext(ctx, "dispatcher: stale event discarded",
		"kind", kind, "user", userID, "token", token, "reason", reason)
}

func (d *Dispatcher) shuffle(qs []domain.Question) []domain.Question {
	d.rndMu.Lock()
	defer d.rndMu.Unlock()
	return shuffleQuestions(d.rnd, qs)
}

func (d *Dispatcher) sendText(ctx context.Context, userID, text string) {
	if err := d.msg.SendText(ctx, userID, text); err != nil {
		d.log.WarnContext(ctx, "dispatcher: send text failed", "user", userID, "error", err)
	}
}

func (d *Dispatcher) presentChoice(ctx context.Context, userID, prompt string, options []domain.Choice) {
	if err := d.msg.PresentChoice(ctx, userID, prompt, options); err != nil {
		d.log.WarnContext(ctx, "dispatcher: present choice failed", "user", userID, "error", err)
	}
}

func summaryText(sum domain.Summary) string {
	head := "Quiz finished!"
	if sum.Phase == domain.PhaseStopped {
		head = "Quiz stopped."
	}
	return fmt.Sprintf("%s\nCorrect answers: %d\nWrong answers: %d\nScore: %d%%",
		head, sum.Correct, sum.Total-sum.Correct, sum.Percentage)
}
