package optimizer

import (
	"fmt"
	"math"

	"voxseg/checkpoints"
	"voxseg/tensor"
)

// AdamOptimizer implements the Adam update rule with bias-corrected first and
// second moment estimates and optional L2 weight decay.
type AdamOptimizer struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	// First and second moment buffers, one pair per parameter
	m [][]float32
	v [][]float32

	params []*tensor.Tensor

	// Step tracking
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer bound to the given parameters.
func NewAdamOptimizer(config AdamConfig, params []*tensor.Tensor) (*AdamOptimizer, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1.0 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1.0 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	for i, p := range params {
		if p.Grad == nil {
			return nil, fmt.Errorf("parameter %d has no gradient buffer", i)
		}
	}

	adam := &AdamOptimizer{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		params:       params,
		m:            make([][]float32, len(params)),
		v:            make([][]float32, len(params)),
	}
	for i, p := range params {
		adam.m[i] = make([]float32, len(p.Data))
		adam.v[i] = make([]float32, len(p.Data))
	}

	return adam, nil
}

// Step performs a single Adam optimization step over all bound parameters.
func (adam *AdamOptimizer) Step() error {
	adam.StepCount++

	t := float64(adam.StepCount)
	correction1 := float32(1.0 - math.Pow(float64(adam.Beta1), t))
	correction2 := float32(1.0 - math.Pow(float64(adam.Beta2), t))

	for i, p := range adam.params {
		data := p.Data
		grad := p.Grad
		m := adam.m[i]
		v := adam.v[i]

		for j := range data {
			g := grad[j]
			if adam.WeightDecay > 0 {
				g += adam.WeightDecay * data[j]
			}
			m[j] = adam.Beta1*m[j] + (1.0-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1.0-adam.Beta2)*g*g

			mHat := m[j] / correction1
			vHat := v[j] / correction2
			data[j] -= adam.LearningRate * mHat / (float32(math.Sqrt(float64(vHat))) + adam.Epsilon)
		}
	}

	return nil
}

// ZeroGrad clears all parameter gradients.
func (adam *AdamOptimizer) ZeroGrad() {
	for _, p := range adam.params {
		p.ZeroGrad()
	}
}

// UpdateLearningRate updates the learning rate.
func (adam *AdamOptimizer) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetStepCount returns the current step count.
func (adam *AdamOptimizer) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing.
func (adam *AdamOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 2*len(adam.params))

	for i := range adam.params {
		mData := make([]float32, len(adam.m[i]))
		copy(mData, adam.m[i])
		stateData = append(stateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("m_%d", i),
			Shape:     adam.params[i].Shape,
			Data:      mData,
			StateType: "m",
		})

		vData := make([]float32, len(adam.v[i]))
		copy(vData, adam.v[i])
		stateData = append(stateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("v_%d", i),
			Shape:     adam.params[i].Shape,
			Data:      vData,
			StateType: "v",
		})
	}

	return &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint.
func (adam *AdamOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	for _, st := range state.StateData {
		var target [][]float32
		switch st.StateType {
		case "m":
			target = adam.m
		case "v":
			target = adam.v
		default:
			continue
		}

		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", st.Name)
		}
		if len(st.Data) != len(target[idx]) {
			return fmt.Errorf("%s buffer %d size mismatch: checkpoint %d, optimizer %d",
				st.StateType, idx, len(st.Data), len(target[idx]))
		}
		copy(target[idx], st.Data)
	}

	return nil
}
