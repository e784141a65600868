package domain

import "errors"

var (
	// ErrMalformedQuestionSet is returned when question data fails validation at load time.
	ErrMalformedQuestionSet = errors.New("malformed question set")
	// ErrUnknownTopic is returned when a topic is not present in the question bank.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrAlreadyActive is returned when a user starts a session while one is in progress.
	ErrAlreadyActive = errors.New("session already in progress")
	// ErrNoActiveSession is returned when an operation needs an active session and there is none.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTopicNotSelected is returned when a user starts before choosing a topic.
	ErrTopicNotSelected = errors.New("topic not selected")
	// ErrOptionNotFound indicates a submitted option index is outside the rendered options.
	ErrOptionNotFound = errors.New("option not found")
	// ErrRecipientOffline indicates the transport has no connection for the user.
	ErrRecipientOffline = errors.New("recipient offline")
)
