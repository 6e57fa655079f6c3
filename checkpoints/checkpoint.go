// Package checkpoints serializes model weights, optimizer state and training
// progress to JSON files and restores them by parameter name.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"voxseg/nn"
	"voxseg/tensor"
)

// Checkpoint represents a complete model state including weights, optimizer
// state and training metadata.
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Type  string    `json:"type"` // "weight", "bias", "alpha"
}

// TrainingState captures the current training progress.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	BestLoss     float32 `json:"best_loss"`
	BestMetric   float32 `json:"best_metric"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v"
}

// CheckpointMetadata contains checkpoint metadata.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving and loading model checkpoints.
type CheckpointSaver struct{}

// NewCheckpointSaver creates a new checkpoint saver.
func NewCheckpointSaver() *CheckpointSaver {
	return &CheckpointSaver{}
}

// SaveCheckpoint saves a complete model checkpoint to a JSON file.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	// Ensure metadata is set
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "voxseg"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// LoadCheckpoint loads a model checkpoint from a JSON file.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ExtractWeights copies every named parameter of the model into serializable
// weight tensors.
func ExtractWeights(model nn.Model) ([]WeightTensor, error) {
	params := model.NamedParameters()
	if len(params) == 0 {
		return nil, fmt.Errorf("model has no parameters to extract")
	}

	weights := make([]WeightTensor, 0, len(params))
	for _, np := range params {
		if np.Tensor == nil {
			return nil, fmt.Errorf("parameter %s has no tensor", np.Name)
		}
		data := make([]float32, len(np.Tensor.Data))
		copy(data, np.Tensor.Data)
		shape := make([]int, len(np.Tensor.Shape))
		copy(shape, np.Tensor.Shape)

		weights = append(weights, WeightTensor{
			Name:  np.Name,
			Shape: shape,
			Data:  data,
			Type:  weightType(np.Name),
		})
	}
	return weights, nil
}

// LoadWeights copies checkpoint weight data back into the model parameters,
// matching by name and validating shapes.
func LoadWeights(weights []WeightTensor, model nn.Model) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	params := model.NamedParameters()
	if len(params) != len(weights) {
		return fmt.Errorf("weight count mismatch: checkpoint has %d, model has %d", len(weights), len(params))
	}

	for _, np := range params {
		w, ok := byName[np.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %s", np.Name)
		}
		if !tensor.ShapesEqual(w.Shape, np.Tensor.Shape) {
			return fmt.Errorf("shape mismatch for parameter %s: checkpoint %v vs model %v",
				np.Name, w.Shape, np.Tensor.Shape)
		}
		if len(w.Data) != len(np.Tensor.Data) {
			return fmt.Errorf("data length mismatch for parameter %s: checkpoint %d vs model %d",
				np.Name, len(w.Data), len(np.Tensor.Data))
		}
		copy(np.Tensor.Data, w.Data)
	}
	return nil
}

func weightType(name string) string {
	switch {
	case strings.HasSuffix(name, ".bias"):
		return "bias"
	case strings.HasSuffix(name, ".alpha"):
		return "alpha"
	default:
		return "weight"
	}
}
