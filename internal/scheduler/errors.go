package scheduler

import "errors"

var (
	// ErrUnknownFamily is returned when a tick family is not registered
	ErrUnknownFamily = errors.New("unknown tick family")

	// ErrDuplicateFamily is returned when a tick family is registered twice
	ErrDuplicateFamily = errors.New("duplicate tick family")

	// ErrInvalidInterval is returned for a tick interval under one second
	ErrInvalidInterval = errors.New("invalid tick interval")

	// ErrAlreadyStarted is returned when registering after Start
	ErrAlreadyStarted = errors.New("scheduler already started")
)
