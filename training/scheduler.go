package training

import (
	"fmt"
	"math"

	"voxseg/optimizer"
)

// LRScheduler computes the learning rate for an epoch. Schedulers are pure
// functions of the epoch and base rate.
type LRScheduler interface {
	// GetLR returns the learning rate for the given 1-based epoch.
	GetLR(epoch int, baseLR float32) float32

	// GetName returns the scheduler name for logging.
	GetName() string
}

// StepLRScheduler reduces the learning rate by a factor every StepSize
// epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float32
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float32) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float32) float32 {
	times := epoch / s.StepSize
	return baseLR * float32(math.Pow(float64(s.Gamma), float64(times)))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays the learning rate exponentially per epoch.
type ExponentialLRScheduler struct {
	Gamma float32
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler.
func NewExponentialLRScheduler(gamma float32) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float32) float32 {
	return baseLR * float32(math.Pow(float64(s.Gamma), float64(epoch)))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// LRSchedulerHandler applies a schedule to the optimizer after each epoch and
// records the new rate in the run context.
type LRSchedulerHandler struct {
	BaseHandler

	optim     optimizer.Optimizer
	scheduler LRScheduler
	baseLR    float32
}

// NewLRSchedulerHandler creates the handler with the optimizer's starting
// rate as the base.
func NewLRSchedulerHandler(optim optimizer.Optimizer, scheduler LRScheduler, baseLR float32) (*LRSchedulerHandler, error) {
	if optim == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if baseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %f", baseLR)
	}
	return &LRSchedulerHandler{optim: optim, scheduler: scheduler, baseLR: baseLR}, nil
}

// OnEpochCompleted sets the learning rate for the next epoch.
func (h *LRSchedulerHandler) OnEpochCompleted(ctx *RunContext) error {
	lr := h.scheduler.GetLR(ctx.Epoch, h.baseLR)
	h.optim.UpdateLearningRate(lr)
	ctx.Metrics["learning_rate"] = float64(lr)
	return nil
}
