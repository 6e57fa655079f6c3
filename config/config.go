// Package config loads the run configuration from a YAML file, with working
// defaults for every field.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a training run.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Model      ModelConfig      `yaml:"model"`
	Training   TrainingConfig   `yaml:"training"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DataConfig describes the dataset on disk and how samples are prepared.
type DataConfig struct {
	// Dir holds the image/label volume pairs. When empty or absent the
	// command generates a synthetic dataset there first.
	Dir        string `yaml:"dir"`
	NumSamples int    `yaml:"num_samples"`
	ValSamples int    `yaml:"val_samples"`
	VolumeSize []int  `yaml:"volume_size"`
	CropSize   []int  `yaml:"crop_size"`
	NumWorkers int    `yaml:"num_workers"`
	Seed       int64  `yaml:"seed"`
}

// ModelConfig describes the network architecture.
type ModelConfig struct {
	Channels    []int `yaml:"channels"`
	Strides     []int `yaml:"strides"`
	NumResUnits int   `yaml:"num_res_units"`
}

// TrainingConfig describes the optimization loop.
type TrainingConfig struct {
	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	LearningRate  float32 `yaml:"learning_rate"`
	ValidateEvery int     `yaml:"validate_every"`
}

// CheckpointConfig describes checkpoint retention.
type CheckpointConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	Keep   int    `yaml:"keep"`
}

// LoggingConfig describes TensorBoard event output.
type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns a configuration that trains a small model on a generated
// synthetic dataset.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir:        "data",
			NumSamples: 40,
			ValSamples: 10,
			VolumeSize: []int{64, 64, 64},
			CropSize:   []int{32, 32, 32},
			NumWorkers: 4,
			Seed:       1,
		},
		Model: ModelConfig{
			Channels:    []int{16, 32, 64, 128},
			Strides:     []int{2, 2, 2},
			NumResUnits: 2,
		},
		Training: TrainingConfig{
			Epochs:        10,
			BatchSize:     2,
			LearningRate:  1e-3,
			ValidateEvery: 2,
		},
		Checkpoint: CheckpointConfig{
			Dir:    "checkpoints",
			Prefix: "unet",
			Keep:   3,
		},
		Logging: LoggingConfig{
			Dir: "runs",
		},
	}
}

// Load reads a YAML configuration file over the defaults. Fields absent from
// the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Data.NumSamples <= 0 {
		return fmt.Errorf("data.num_samples must be positive, got %d", c.Data.NumSamples)
	}
	if c.Data.ValSamples < 0 || c.Data.ValSamples >= c.Data.NumSamples {
		return fmt.Errorf("data.val_samples must be in [0, num_samples), got %d of %d",
			c.Data.ValSamples, c.Data.NumSamples)
	}
	if len(c.Data.VolumeSize) != 3 {
		return fmt.Errorf("data.volume_size needs 3 dimensions, got %v", c.Data.VolumeSize)
	}
	if len(c.Data.CropSize) != 3 {
		return fmt.Errorf("data.crop_size needs 3 dimensions, got %v", c.Data.CropSize)
	}
	for i := range c.Data.CropSize {
		if c.Data.CropSize[i] <= 0 || c.Data.VolumeSize[i] < c.Data.CropSize[i] {
			return fmt.Errorf("data.crop_size %v must be positive and fit inside volume_size %v",
				c.Data.CropSize, c.Data.VolumeSize)
		}
	}
	if len(c.Model.Strides) != len(c.Model.Channels)-1 {
		return fmt.Errorf("model.strides needs one entry per downsampling step: %d channels require %d strides, got %d",
			len(c.Model.Channels), len(c.Model.Channels)-1, len(c.Model.Strides))
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be positive, got %d", c.Training.Epochs)
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize)
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive, got %f", c.Training.LearningRate)
	}
	if c.Training.ValidateEvery <= 0 {
		return fmt.Errorf("training.validate_every must be positive, got %d", c.Training.ValidateEvery)
	}
	return nil
}
