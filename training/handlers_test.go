package training

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxseg/dataset"
	"voxseg/optimizer"
)

func TestCheckpointHandlerRetention(t *testing.T) {
	model := newIdentityModel()
	sgd, err := optimizer.NewSGDOptimizer(optimizer.DefaultSGDConfig(), model.Parameters())
	if err != nil {
		t.Fatalf("failed to create optimizer: %v", err)
	}

	dir := t.TempDir()
	handler, err := NewCheckpointHandler(model, sgd, dir, "net", 2)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	ctx := newRunContext(5)
	for epoch := 1; epoch <= 5; epoch++ {
		ctx.Epoch = epoch
		ctx.Iteration = epoch * 10
		if err := handler.OnEpochCompleted(ctx); err != nil {
			t.Fatalf("epoch %d checkpoint failed: %v", epoch, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read checkpoint dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 retained checkpoints, found %d", len(entries))
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "net_epoch_004.json") || !strings.Contains(joined, "net_epoch_005.json") {
		t.Errorf("expected the two newest checkpoints, found %v", names)
	}

	saved := handler.Saved()
	if len(saved) != 2 || filepath.Base(saved[1]) != "net_epoch_005.json" {
		t.Errorf("unexpected saved list: %v", saved)
	}
}

func TestStatsHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	handler := NewStatsHandler(&buf)

	ctx := newRunContext(2)
	ctx.Epoch = 1
	ctx.EpochIteration = 1
	ctx.Iteration = 1
	ctx.LastLoss = 0.8125
	if err := handler.OnIterationCompleted(ctx); err != nil {
		t.Fatalf("iteration event failed: %v", err)
	}

	ctx.Metrics["val_mean_dice"] = 0.5
	if err := handler.OnEpochCompleted(ctx); err != nil {
		t.Fatalf("epoch event failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "epoch 1/2 iter 1 loss 0.8125") {
		t.Errorf("missing iteration line in output:\n%s", out)
	}
	if !strings.Contains(out, "val_mean_dice 0.5000") {
		t.Errorf("missing metric in epoch summary:\n%s", out)
	}
}

func TestStatsHandlerCadence(t *testing.T) {
	var buf bytes.Buffer
	handler := NewStatsHandler(&buf)
	handler.Every = 2

	ctx := newRunContext(1)
	ctx.Epoch = 1
	for i := 1; i <= 4; i++ {
		ctx.EpochIteration = i
		if err := handler.OnIterationCompleted(ctx); err != nil {
			t.Fatalf("iteration event failed: %v", err)
		}
	}
	lines := strings.Count(buf.String(), "\n")
	if lines != 2 {
		t.Errorf("expected 2 printed iterations with Every=2, got %d", lines)
	}
}

func TestValidationHandlerCadenceAndScore(t *testing.T) {
	model := newIdentityModel()
	eval, err := NewEvaluator(model, NewMeanDice(), "mean_dice")
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	loader, err := dataset.NewLoader(&stubDataset{n: 2, side: 4}, dataset.LoaderConfig{BatchSize: 2})
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}

	handler, err := NewValidationHandler(eval, loader, 2)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	ctx := newRunContext(4)

	ctx.Epoch = 1
	if err := handler.OnEpochCompleted(ctx); err != nil {
		t.Fatalf("epoch 1 failed: %v", err)
	}
	if _, ok := ctx.Metrics["val_mean_dice"]; ok {
		t.Error("validation ran at epoch 1 despite Every=2")
	}

	ctx.Epoch = 2
	if err := handler.OnEpochCompleted(ctx); err != nil {
		t.Fatalf("epoch 2 failed: %v", err)
	}
	score, ok := ctx.Metrics["val_mean_dice"]
	if !ok {
		t.Fatal("validation score missing after epoch 2")
	}
	if score < 0 || score > 1 {
		t.Errorf("score out of range: %.4f", score)
	}

	best, epoch := handler.Best()
	if epoch != 2 || best != score {
		t.Errorf("unexpected best tracking: score %.4f at epoch %d", best, epoch)
	}
}

func TestLRSchedulerHandlerUpdatesRate(t *testing.T) {
	model := newIdentityModel()
	cfg := optimizer.SGDConfig{LearningRate: 0.01}
	sgd, err := optimizer.NewSGDOptimizer(cfg, model.Parameters())
	if err != nil {
		t.Fatalf("failed to create optimizer: %v", err)
	}

	handler, err := NewLRSchedulerHandler(sgd, NewStepLRScheduler(2, 0.1), cfg.LearningRate)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	ctx := newRunContext(4)
	ctx.Epoch = 1
	if err := handler.OnEpochCompleted(ctx); err != nil {
		t.Fatalf("epoch 1 failed: %v", err)
	}
	if sgd.LearningRate != cfg.LearningRate {
		t.Errorf("rate changed before the step boundary: %v", sgd.LearningRate)
	}

	ctx.Epoch = 2
	if err := handler.OnEpochCompleted(ctx); err != nil {
		t.Fatalf("epoch 2 failed: %v", err)
	}
	want := cfg.LearningRate * 0.1
	if diff := sgd.LearningRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected rate %v after step, got %v", want, sgd.LearningRate)
	}
	if ctx.Metrics["learning_rate"] == 0 {
		t.Error("expected learning rate recorded in metrics")
	}
}
