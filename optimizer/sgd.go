package optimizer

import (
	"fmt"

	"voxseg/checkpoints"
	"voxseg/tensor"
)

// SGDOptimizer implements stochastic gradient descent with optional momentum,
// Nesterov lookahead and L2 weight decay.
type SGDOptimizer struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool

	// Momentum buffers, one per parameter (only if momentum > 0)
	momentumBuffers [][]float32

	params []*tensor.Tensor

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates an SGD optimizer bound to the given parameters.
func NewSGDOptimizer(config SGDConfig, params []*tensor.Tensor) (*SGDOptimizer, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	for i, p := range params {
		if p.Grad == nil {
			return nil, fmt.Errorf("parameter %d has no gradient buffer", i)
		}
	}

	sgd := &SGDOptimizer{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
	}

	// Only allocate momentum buffers if momentum > 0
	if config.Momentum > 0 {
		sgd.momentumBuffers = make([][]float32, len(params))
		for i, p := range params {
			sgd.momentumBuffers[i] = make([]float32, len(p.Data))
		}
	}

	return sgd, nil
}

// Step performs a single SGD optimization step over all bound parameters.
func (sgd *SGDOptimizer) Step() error {
	sgd.StepCount++

	for i, p := range sgd.params {
		data := p.Data
		grad := p.Grad

		if sgd.Momentum > 0 {
			buf := sgd.momentumBuffers[i]
			for j := range data {
				g := grad[j]
				if sgd.WeightDecay > 0 {
					g += sgd.WeightDecay * data[j]
				}
				buf[j] = sgd.Momentum*buf[j] + g
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
				data[j] -= sgd.LearningRate * g
			}
		} else {
			for j := range data {
				g := grad[j]
				if sgd.WeightDecay > 0 {
					g += sgd.WeightDecay * data[j]
				}
				data[j] -= sgd.LearningRate * g
			}
		}
	}

	return nil
}

// ZeroGrad clears all parameter gradients.
func (sgd *SGDOptimizer) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

// UpdateLearningRate updates the learning rate.
func (sgd *SGDOptimizer) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

// GetStepCount returns the current step count.
func (sgd *SGDOptimizer) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing.
func (sgd *SGDOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0)

	if sgd.Momentum > 0 {
		for i, buf := range sgd.momentumBuffers {
			data := make([]float32, len(buf))
			copy(data, buf)
			stateData = append(stateData, checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("momentum_%d", i),
				Shape:     sgd.params[i].Shape,
				Data:      data,
				StateType: "momentum",
			})
		}
	}

	return &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint.
func (sgd *SGDOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	for _, st := range state.StateData {
		if st.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", st.Name)
		}
		if sgd.momentumBuffers == nil || sgd.momentumBuffers[idx] == nil {
			return fmt.Errorf("momentum buffer %d not allocated", idx)
		}
		if len(st.Data) != len(sgd.momentumBuffers[idx]) {
			return fmt.Errorf("momentum buffer %d size mismatch: checkpoint %d, optimizer %d",
				idx, len(st.Data), len(sgd.momentumBuffers[idx]))
		}
		copy(sgd.momentumBuffers[idx], st.Data)
	}

	return nil
}
