package execution

import "errors"

var (
	// ErrNilConfig is returned when the configuration is nil.
	ErrNilConfig = errors.New("execution mode config is nil")

	// ErrNilIterationFunc is returned when the iteration function is nil.
	ErrNilIterationFunc = errors.New("iteration function is nil")

	// ErrNoStages is returned when no stages are defined for ramping modes.
	ErrNoStages = errors.New("no stages defined for ramping mode")

	// ErrNoStopCondition is returned when a run has neither a duration nor an iteration cap.
	ErrNoStopCondition = errors.New("either duration or iterations must be set")

	// ErrNoIterations is returned by iteration based modes configured without iterations.
	ErrNoIterations = errors.New("iterations must be positive")

	// ErrModeAlreadyRunning is returned when trying to start a mode that is already running.
	ErrModeAlreadyRunning = errors.New("execution mode is already running")

	// ErrIterationInterrupted is passed to OnIterationComplete for iterations
	// cut short by forced cancellation.
	ErrIterationInterrupted = errors.New("iteration interrupted")

	// ErrIterationPanic wraps a panic recovered from a scenario iteration.
	ErrIterationPanic = errors.New("iteration panicked")

	// ErrTooManyIterationErrors is the abort reason when MaxIterationErrors is reached.
	ErrTooManyIterationErrors = errors.New("too many iteration errors")
)
