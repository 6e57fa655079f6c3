package training

import (
	"fmt"
	"os"
	"path/filepath"

	"voxseg/checkpoints"
	"voxseg/nn"
	"voxseg/optimizer"
)

// CheckpointHandler saves a model checkpoint after every epoch and keeps only
// the most recent files, evicting the oldest first.
type CheckpointHandler struct {
	BaseHandler

	model nn.Model
	optim optimizer.Optimizer
	saver *checkpoints.CheckpointSaver

	dir    string
	prefix string
	keep   int

	saved []string
}

// NewCheckpointHandler creates the handler. keep bounds how many checkpoint
// files remain on disk; zero or negative keeps everything.
func NewCheckpointHandler(model nn.Model, optim optimizer.Optimizer, dir, prefix string, keep int) (*CheckpointHandler, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	if prefix == "" {
		prefix = "checkpoint"
	}
	return &CheckpointHandler{
		model:  model,
		optim:  optim,
		saver:  checkpoints.NewCheckpointSaver(),
		dir:    dir,
		prefix: prefix,
		keep:   keep,
	}, nil
}

// Saved returns the paths of checkpoints currently on disk, oldest first.
func (h *CheckpointHandler) Saved() []string {
	return append([]string(nil), h.saved...)
}

// OnEpochCompleted writes the epoch checkpoint and evicts the oldest file
// once the retention bound is exceeded.
func (h *CheckpointHandler) OnEpochCompleted(ctx *RunContext) error {
	weights, err := checkpoints.ExtractWeights(h.model)
	if err != nil {
		return fmt.Errorf("failed to extract weights: %v", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:      ctx.Epoch,
			Step:       ctx.Iteration,
			BestLoss:   float32(ctx.LastLoss),
			TotalSteps: ctx.Iteration,
		},
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("epoch %d of %d", ctx.Epoch, ctx.MaxEpochs),
		},
	}
	if h.optim != nil {
		state, err := h.optim.GetState()
		if err != nil {
			return fmt.Errorf("failed to extract optimizer state: %v", err)
		}
		checkpoint.OptimizerState = state
		checkpoint.TrainingState.LearningRate = extractLR(state)
	}

	path := filepath.Join(h.dir, fmt.Sprintf("%s_epoch_%03d.json", h.prefix, ctx.Epoch))
	if err := h.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return err
	}
	h.saved = append(h.saved, path)

	for h.keep > 0 && len(h.saved) > h.keep {
		oldest := h.saved[0]
		h.saved = h.saved[1:]
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("failed to evict checkpoint %s: %v", oldest, err)
		}
	}
	return nil
}

func extractLR(state *checkpoints.OptimizerState) float32 {
	if v, ok := state.Parameters["learning_rate"]; ok {
		switch n := v.(type) {
		case float32:
			return n
		case float64:
			return float32(n)
		}
	}
	return 0
}
