package training

import (
	"fmt"

	"voxseg/dataset"
	"voxseg/nn"
	"voxseg/optimizer"
)

// Trainer runs the optimization loop over a loader for a fixed number of
// epochs, firing handler events after every iteration and epoch. It knows
// nothing about validation, checkpointing or logging; those are handlers.
type Trainer struct {
	model    nn.Model
	loss     Loss
	optim    optimizer.Optimizer
	handlers []Handler

	state EngineState
	ctx   *RunContext
}

// NewTrainer creates a trainer driving the given model, loss and optimizer.
func NewTrainer(model nn.Model, loss Loss, optim optimizer.Optimizer) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if loss == nil {
		return nil, fmt.Errorf("loss cannot be nil")
	}
	if optim == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	return &Trainer{
		model: model,
		loss:  loss,
		optim: optim,
		state: StateIdle,
	}, nil
}

// AttachHandler registers a handler. Handlers fire synchronously in attach
// order, so a handler that writes into ctx.Metrics must be attached before
// one that reads the value.
func (t *Trainer) AttachHandler(h Handler) {
	t.handlers = append(t.handlers, h)
}

// State returns the engine state.
func (t *Trainer) State() EngineState {
	return t.state
}

// Context returns the run context of the current or most recent run.
func (t *Trainer) Context() *RunContext {
	return t.ctx
}

// Run trains for maxEpochs passes over the loader. Any error from the data
// pipeline, the model, the optimizer or a handler moves the engine to Failed
// and is returned.
func (t *Trainer) Run(loader *dataset.Loader, maxEpochs int) error {
	if t.state == StateRunning {
		return fmt.Errorf("trainer is already running")
	}
	if maxEpochs <= 0 {
		return fmt.Errorf("max epochs must be positive, got %d", maxEpochs)
	}

	t.state = StateRunning
	t.ctx = newRunContext(maxEpochs)

	if err := t.run(loader); err != nil {
		t.state = StateFailed
		return err
	}
	t.state = StateCompleted
	return nil
}

func (t *Trainer) run(loader *dataset.Loader) error {
	for epoch := 1; epoch <= t.ctx.MaxEpochs; epoch++ {
		t.ctx.Epoch = epoch
		t.ctx.EpochIteration = 0
		loader.Reset()

		for {
			batch, err := loader.Next()
			if err != nil {
				return fmt.Errorf("epoch %d: failed to load batch: %v", epoch, err)
			}
			if batch == nil {
				break
			}
			t.ctx.Iteration++
			t.ctx.EpochIteration++

			if err := t.step(batch); err != nil {
				return fmt.Errorf("epoch %d iteration %d: %v", epoch, t.ctx.EpochIteration, err)
			}
			if err := fireIterationCompleted(t.handlers, t.ctx); err != nil {
				return fmt.Errorf("epoch %d iteration %d: handler failed: %v", epoch, t.ctx.EpochIteration, err)
			}
		}

		if t.ctx.EpochIteration == 0 {
			return fmt.Errorf("epoch %d: loader produced no batches", epoch)
		}
		if err := fireEpochCompleted(t.handlers, t.ctx); err != nil {
			return fmt.Errorf("epoch %d: handler failed: %v", epoch, err)
		}
	}
	return nil
}

func (t *Trainer) step(batch *dataset.Batch) error {
	t.optim.ZeroGrad()

	logits, err := t.model.Forward(batch.Images)
	if err != nil {
		return fmt.Errorf("forward pass failed: %v", err)
	}
	lossVal, err := t.loss.Forward(logits, batch.Labels)
	if err != nil {
		return fmt.Errorf("loss computation failed: %v", err)
	}
	grad, err := t.loss.Backward()
	if err != nil {
		return fmt.Errorf("loss backward failed: %v", err)
	}
	if _, err := t.model.Backward(grad); err != nil {
		return fmt.Errorf("backward pass failed: %v", err)
	}
	if err := t.optim.Step(); err != nil {
		return fmt.Errorf("optimizer step failed: %v", err)
	}

	t.ctx.LastLoss = lossVal
	return nil
}
