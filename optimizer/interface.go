// Package optimizer implements CPU gradient-descent update rules over
// parameter tensors, with state save/restore for checkpointing.
package optimizer

import (
	"fmt"

	"voxseg/checkpoints"
)

// Optimizer defines the common interface for all optimizers. Parameters are
// bound at construction; Step reads each parameter's accumulated gradient and
// updates its data in place.
type Optimizer interface {
	// Step performs a single optimization step
	Step() error

	// ZeroGrad clears the gradient buffer of every bound parameter
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)
}

// extractBufferIndex extracts the buffer index from state tensor names like
// "momentum_0", "m_1", "v_0".
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer.
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// JSON round trips turn numbers into float64; these helpers recover typed
// hyperparameters with a fallback when the key is absent.

func extractFloat32Param(params map[string]interface{}, key string, fallback float32) float32 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float32:
			return n
		case float64:
			return float32(n)
		}
	}
	return fallback
}

func extractBoolParam(params map[string]interface{}, key string, fallback bool) bool {
	if v, ok := params[key]; ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return fallback
}

func extractUint64Param(params map[string]interface{}, key string, fallback uint64) uint64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case uint64:
			return n
		case float64:
			return uint64(n)
		case int:
			return uint64(n)
		}
	}
	return fallback
}
