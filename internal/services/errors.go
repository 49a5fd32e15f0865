package services

import (
	"errors"

	"github.com/celestiaorg/crawlctl/internal/tracker"
)

// Advisory outcomes. They are returned to the caller and published as
// info notifications, but never count as failures.
var (
	// ErrAlreadyRunning is returned when a crawl is requested for a job that already has one
	ErrAlreadyRunning = tracker.ErrAlreadyRunning
	// ErrNothingToStop is returned when a stop is requested for a job without an execution
	ErrNothingToStop = errors.New("nothing to stop")
	// ErrDeleteInProgress is returned when a delete for the same job is still in flight
	ErrDeleteInProgress = errors.New("delete already in progress")
	// ErrStopped is returned by StartOne when the crawl was stopped by the operator
	ErrStopped = errors.New("crawl stopped")
	// ErrUnknownTask is returned when an id is not in the local registry
	ErrUnknownTask = errors.New("task not found")
)

// Reconciler errors
var (
	// ErrTickInFlight is returned by Tick when another tick has not finished
	ErrTickInFlight = errors.New("reconciliation already in flight")
	// ErrReconcilerStopped is returned by Tick after Stop
	ErrReconcilerStopped = errors.New("reconciler stopped")
	// ErrReconcilerStarted is returned by a second Start
	ErrReconcilerStarted = errors.New("reconciler already started")
)

// ValidationError is returned when operator input is rejected before any network call
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsAdvisory reports whether err is a no-op outcome rather than a failure
func IsAdvisory(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrNothingToStop) ||
		errors.Is(err, ErrDeleteInProgress) ||
		errors.Is(err, ErrStopped)
}
