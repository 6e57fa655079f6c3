package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
training:
  epochs: 3
  batch_size: 4
data:
  dir: /tmp/somewhere
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Training.Epochs != 3 || cfg.Training.BatchSize != 4 {
		t.Errorf("overrides not applied: %+v", cfg.Training)
	}
	if cfg.Data.Dir != "/tmp/somewhere" {
		t.Errorf("data dir not applied: %q", cfg.Data.Dir)
	}
	// Untouched fields keep defaults.
	if cfg.Training.LearningRate != 1e-3 {
		t.Errorf("default learning rate lost: %v", cfg.Training.LearningRate)
	}
	if cfg.Checkpoint.Keep != 3 {
		t.Errorf("default checkpoint retention lost: %d", cfg.Checkpoint.Keep)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"bad yaml", "training: ["},
		{"zero epochs", "training:\n  epochs: 0\n"},
		{"crop larger than volume", "data:\n  crop_size: [128, 32, 32]\n"},
		{"stride count mismatch", "model:\n  strides: [2]\n"},
		{"too many val samples", "data:\n  val_samples: 40\n"},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.contents)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
