// Package training drives the optimization loop: an event-emitting trainer
// and evaluator, the Dice loss and metric, learning rate schedules, and
// handlers for checkpointing, validation, console stats and TensorBoard
// logging.
package training

// EngineState tracks where an engine is in its lifecycle.
type EngineState int

const (
	StateIdle EngineState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// RunContext carries an engine's position in its run. Handlers receive it on
// every event; they may read any field and record results in Metrics.
type RunContext struct {
	Epoch          int // 1-based
	MaxEpochs      int
	Iteration      int // total iterations across the run, 1-based
	EpochIteration int // iterations within the current epoch, 1-based
	LastLoss       float64

	// Metrics holds named results accumulated during the run, for example
	// the validation score written back by a validation handler.
	Metrics map[string]float64

	// Delegate points at the context of the engine this run serves. An
	// evaluation launched from a training epoch carries the trainer's
	// context here, so evaluation handlers can log against the training
	// epoch instead of their own counters.
	Delegate *RunContext
}

func newRunContext(maxEpochs int) *RunContext {
	return &RunContext{
		MaxEpochs: maxEpochs,
		Metrics:   make(map[string]float64),
	}
}
