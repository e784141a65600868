package domain

const (
	EventNameTopicSelected  = "topic.selected"
	EventNameStartRequested = "session.start_requested"
	EventNameStopRequested  = "session.stop_requested"
	EventNameAnswerReceived = "answer.received"
	EventNameContinueChosen = "choice.continue"
	EventNameStopChosen     = "choice.stop"
	EventNameTimeoutExpired = "timeout.expired"
)

// Event is an inbound event produced by the transport or the scheduler.
type Event interface {
	Name() string
}

type EventTopicSelected struct {
	User  User
	Topic string
}

func (EventTopicSelected) Name() string { return EventNameTopicSelected }

type EventStartRequested struct {
	UserID string
}

func (EventStartRequested) Name() string { return EventNameStartRequested }

type EventStopRequested struct {
	UserID string
}

func (EventStopRequested) Name() string { return EventNameStopRequested }

type EventAnswerReceived struct {
	UserID string
	Token  string
	Option int
}

func (EventAnswerReceived) Name() string { return EventNameAnswerReceived }

type EventContinueChosen struct {
	UserID string
}

func (EventContinueChosen) Name() string { return EventNameContinueChosen }

type EventStopChosen struct {
	UserID string
}

func (EventStopChosen) Name() string { return EventNameStopChosen }

// EventTimeoutExpired is delivered by the scheduler when an armed timer fires.
type EventTimeoutExpired struct {
	UserID string
	Token  string
}

func (EventTimeoutExpired) Name() string { return EventNameTimeoutExpired }
