package monitor

import "errors"

var (
	// ErrNotInitialized is returned when the monitor is used before Initialize succeeded
	ErrNotInitialized = errors.New("monitor not initialized")

	// ErrMissingDependency is returned by Initialize when a required collaborator is nil
	ErrMissingDependency = errors.New("missing required dependency")

	// ErrMissingSnapshotField is returned when a rule needs a snapshot section that is absent
	ErrMissingSnapshotField = errors.New("snapshot field missing")

	// ErrUnknownCondition is returned when a rule carries an unrecognized condition
	ErrUnknownCondition = errors.New("unknown alert condition")

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule is returned when a rule ID is already registered
	ErrDuplicateRule = errors.New("duplicate rule")

	// ErrInvalidTransition is returned for a disallowed incident status change
	ErrInvalidTransition = errors.New("invalid incident status transition")

	// ErrNoSender is returned when no sender is registered for a channel
	ErrNoSender = errors.New("no sender registered for channel")
)
