package training

import (
	"fmt"

	"voxseg/dataset"
	"voxseg/nn"
	"voxseg/tensor"
)

// Evaluator runs a forward-only pass over a loader and accumulates a metric.
// The metric name keys the score in the run context's Metrics map.
type Evaluator struct {
	model      nn.Model
	metric     Metric
	metricName string
	handlers   []Handler

	state EngineState
	ctx   *RunContext

	lastImages *tensor.Tensor
	lastLabels *tensor.Tensor
	lastLogits *tensor.Tensor
}

// NewEvaluator creates an evaluator scoring the model with the given metric.
func NewEvaluator(model nn.Model, metric Metric, metricName string) (*Evaluator, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if metric == nil {
		return nil, fmt.Errorf("metric cannot be nil")
	}
	if metricName == "" {
		return nil, fmt.Errorf("metric name cannot be empty")
	}
	return &Evaluator{
		model:      model,
		metric:     metric,
		metricName: metricName,
		state:      StateIdle,
	}, nil
}

// AttachHandler registers a handler for evaluation events.
func (e *Evaluator) AttachHandler(h Handler) {
	e.handlers = append(e.handlers, h)
}

// State returns the engine state.
func (e *Evaluator) State() EngineState {
	return e.state
}

// LastBatch returns the inputs, targets and logits of the final evaluated
// batch, for handlers that render example predictions.
func (e *Evaluator) LastBatch() (images, labels, logits *tensor.Tensor) {
	return e.lastImages, e.lastLabels, e.lastLogits
}

// Run evaluates one pass over the loader and returns the aggregate metric.
// delegate, when non-nil, is the context of the engine this evaluation was
// launched from and is exposed to handlers via ctx.Delegate.
func (e *Evaluator) Run(loader *dataset.Loader, delegate *RunContext) (float64, error) {
	if e.state == StateRunning {
		return 0, fmt.Errorf("evaluator is already running")
	}

	e.state = StateRunning
	e.metric.Reset()
	e.ctx = newRunContext(1)
	e.ctx.Epoch = 1
	e.ctx.Delegate = delegate

	score, err := e.run(loader)
	if err != nil {
		e.state = StateFailed
		return 0, err
	}
	e.state = StateCompleted
	return score, nil
}

func (e *Evaluator) run(loader *dataset.Loader) (float64, error) {
	loader.Reset()
	for {
		batch, err := loader.Next()
		if err != nil {
			return 0, fmt.Errorf("evaluation: failed to load batch: %v", err)
		}
		if batch == nil {
			break
		}
		e.ctx.Iteration++
		e.ctx.EpochIteration++

		logits, err := e.model.Forward(batch.Images)
		if err != nil {
			return 0, fmt.Errorf("evaluation forward pass failed: %v", err)
		}
		if err := e.metric.Update(logits, batch.Labels); err != nil {
			return 0, fmt.Errorf("metric update failed: %v", err)
		}
		e.lastImages = batch.Images
		e.lastLabels = batch.Labels
		e.lastLogits = logits

		if err := fireIterationCompleted(e.handlers, e.ctx); err != nil {
			return 0, fmt.Errorf("evaluation handler failed: %v", err)
		}
	}

	score, err := e.metric.Compute()
	if err != nil {
		return 0, fmt.Errorf("metric aggregation failed: %v", err)
	}
	e.ctx.Metrics[e.metricName] = score

	if err := fireEpochCompleted(e.handlers, e.ctx); err != nil {
		return 0, fmt.Errorf("evaluation handler failed: %v", err)
	}
	return score, nil
}
