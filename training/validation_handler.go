package training

import (
	"fmt"

	"voxseg/dataset"
)

// ValidationHandler runs an evaluator over a validation loader at a fixed
// epoch cadence and records the score in the trainer's context, keyed as
// "val_"+metric name. Attach it before handlers that read the score.
type ValidationHandler struct {
	BaseHandler

	evaluator *Evaluator
	loader    *dataset.Loader

	// Every is the epoch interval between validations.
	Every int

	bestScore float64
	bestEpoch int
}

// NewValidationHandler creates the handler validating every `every` epochs.
func NewValidationHandler(evaluator *Evaluator, loader *dataset.Loader, every int) (*ValidationHandler, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if loader == nil {
		return nil, fmt.Errorf("validation loader cannot be nil")
	}
	if every <= 0 {
		return nil, fmt.Errorf("validation interval must be positive, got %d", every)
	}
	return &ValidationHandler{
		evaluator: evaluator,
		loader:    loader,
		Every:     every,
	}, nil
}

// Best returns the best validation score seen so far and the epoch that
// produced it.
func (h *ValidationHandler) Best() (score float64, epoch int) {
	return h.bestScore, h.bestEpoch
}

// OnEpochCompleted runs validation when the epoch hits the cadence, passing
// the trainer's context through as the evaluation delegate.
func (h *ValidationHandler) OnEpochCompleted(ctx *RunContext) error {
	if ctx.Epoch%h.Every != 0 {
		return nil
	}

	score, err := h.evaluator.Run(h.loader, ctx)
	if err != nil {
		return fmt.Errorf("validation at epoch %d failed: %v", ctx.Epoch, err)
	}

	ctx.Metrics["val_"+h.evaluator.metricName] = score
	if score > h.bestScore || h.bestEpoch == 0 {
		h.bestScore = score
		h.bestEpoch = ctx.Epoch
	}
	return nil
}
