package services

import "errors"

// Error taxonomy of the triage engine. Callers match with errors.Is.
var (
	// ErrInvalidInput marks user-correctable input such as empty message text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks an unknown case id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation the case lifecycle does not allow.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotificationFailure marks a failed contact notification. It is
	// recorded on the intervention outcome and never returned from SubmitMessage.
	ErrNotificationFailure = errors.New("notification failed")
	// ErrExternalServiceDegraded marks a failed or timed-out external analysis.
	// The classifier absorbs it and falls back to keywords.
	ErrExternalServiceDegraded = errors.New("external analysis degraded")
)
