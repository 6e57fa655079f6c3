// Command voxseg trains a 3D UNet on paired image/label volumes. With no
// existing dataset it generates a synthetic one first. It can also convert a
// DICOM series to a NIfTI volume for use as input data.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"voxseg/config"
	"voxseg/dataset"
	"voxseg/nn"
	"voxseg/optimizer"
	"voxseg/tblog"
	"voxseg/training"
	"voxseg/transforms"
	"voxseg/volume"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults apply when empty)")
	importDICOM := flag.String("import-dicom", "", "convert a DICOM series directory to NIfTI and exit")
	importOut := flag.String("out", "imported.nii.gz", "output path for -import-dicom")
	flag.Parse()

	if *importDICOM != "" {
		if err := convertDICOM(*importDICOM, *importOut); err != nil {
			log.Fatalf("DICOM import failed: %v", err)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	if err := run(cfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

func convertDICOM(dir, out string) error {
	vol, err := volume.ReadDICOMSeries(dir)
	if err != nil {
		return err
	}
	if err := volume.Save(vol, out); err != nil {
		return err
	}
	log.Printf("wrote %s with shape %v", out, vol.Shape)
	return nil
}

func run(cfg *config.Config) error {
	rng := rand.New(rand.NewSource(cfg.Data.Seed))
	nn.SetRandomSeed(cfg.Data.Seed)

	imagePaths, labelPaths, err := ensureDataset(cfg, rng)
	if err != nil {
		return fmt.Errorf("dataset preparation failed: %v", err)
	}

	split := len(imagePaths) - cfg.Data.ValSamples
	trainLoader, err := buildLoader(cfg, imagePaths[:split], labelPaths[:split], true, rng.Int63())
	if err != nil {
		return fmt.Errorf("failed to build training loader: %v", err)
	}
	valLoader, err := buildLoader(cfg, imagePaths[split:], labelPaths[split:], false, 0)
	if err != nil {
		return fmt.Errorf("failed to build validation loader: %v", err)
	}

	model, err := nn.NewUNet(nn.UNetConfig{
		InChannels:  1,
		OutChannels: 1,
		Channels:    cfg.Model.Channels,
		Strides:     cfg.Model.Strides,
		NumResUnits: cfg.Model.NumResUnits,
	})
	if err != nil {
		return fmt.Errorf("failed to build model: %v", err)
	}
	if err := model.ValidateInputShape(cfg.Data.CropSize); err != nil {
		return fmt.Errorf("crop size incompatible with model strides: %v", err)
	}
	if err := model.ValidateInputShape(cfg.Data.VolumeSize); err != nil {
		return fmt.Errorf("volume size incompatible with model strides: %v", err)
	}

	adamCfg := optimizer.DefaultAdamConfig()
	adamCfg.LearningRate = cfg.Training.LearningRate
	adam, err := optimizer.NewAdamOptimizer(adamCfg, model.Parameters())
	if err != nil {
		return fmt.Errorf("failed to build optimizer: %v", err)
	}

	trainer, err := training.NewTrainer(model, training.NewDiceLoss(), adam)
	if err != nil {
		return err
	}
	evaluator, err := training.NewEvaluator(model, training.NewMeanDice(), "mean_dice")
	if err != nil {
		return err
	}

	valHandler, err := training.NewValidationHandler(evaluator, valLoader, cfg.Training.ValidateEvery)
	if err != nil {
		return err
	}
	lrHandler, err := training.NewLRSchedulerHandler(adam,
		training.NewStepLRScheduler(maxInt(1, cfg.Training.Epochs/2), 0.5), cfg.Training.LearningRate)
	if err != nil {
		return err
	}
	ckptHandler, err := training.NewCheckpointHandler(model, adam,
		cfg.Checkpoint.Dir, cfg.Checkpoint.Prefix, cfg.Checkpoint.Keep)
	if err != nil {
		return err
	}

	writer, err := tblog.NewEventWriter(cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("failed to open event log: %v", err)
	}
	defer writer.Close()
	tbHandler, err := training.NewTensorBoardHandler(writer, evaluator)
	if err != nil {
		return err
	}

	// Validation first so later handlers see the epoch's score.
	trainer.AttachHandler(valHandler)
	trainer.AttachHandler(lrHandler)
	trainer.AttachHandler(training.NewStatsHandler(os.Stdout))
	trainer.AttachHandler(ckptHandler)
	trainer.AttachHandler(tbHandler)

	log.Printf("training for %d epochs on %d samples (%d validation), events in %s",
		cfg.Training.Epochs, split, len(imagePaths)-split, writer.Path())

	if err := trainer.Run(trainLoader, cfg.Training.Epochs); err != nil {
		return err
	}

	best, epoch := valHandler.Best()
	log.Printf("done: best mean dice %.4f at epoch %d", best, epoch)
	return nil
}

// ensureDataset returns sorted image and label path lists, generating a
// synthetic dataset when the directory does not hold enough pairs.
func ensureDataset(cfg *config.Config, rng *rand.Rand) ([]string, []string, error) {
	dir := cfg.Data.Dir
	imagePaths, err := volume.SortedGlob(filepath.Join(dir, "im*.nii.gz"))
	if err != nil {
		return nil, nil, err
	}

	if len(imagePaths) < cfg.Data.NumSamples {
		log.Printf("generating %d synthetic volume pairs in %s", cfg.Data.NumSamples, dir)
		if err := generateDataset(cfg, rng); err != nil {
			return nil, nil, err
		}
		imagePaths, err = volume.SortedGlob(filepath.Join(dir, "im*.nii.gz"))
		if err != nil {
			return nil, nil, err
		}
	}

	labelPaths, err := volume.SortedGlob(filepath.Join(dir, "seg*.nii.gz"))
	if err != nil {
		return nil, nil, err
	}
	if len(imagePaths) != len(labelPaths) {
		return nil, nil, fmt.Errorf("found %d images but %d labels in %s", len(imagePaths), len(labelPaths), dir)
	}
	return imagePaths, labelPaths, nil
}

func generateDataset(cfg *config.Config, rng *rand.Rand) error {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}
	size := cfg.Data.VolumeSize
	genCfg := volume.DefaultGeneratorConfig()
	for i := 0; i < cfg.Data.NumSamples; i++ {
		img, label, err := volume.GenerateSegmentationPair(size[0], size[1], size[2], genCfg, rng)
		if err != nil {
			return fmt.Errorf("failed to generate pair %d: %v", i, err)
		}
		imgPath := filepath.Join(cfg.Data.Dir, fmt.Sprintf("im%02d.nii.gz", i))
		labelPath := filepath.Join(cfg.Data.Dir, fmt.Sprintf("seg%02d.nii.gz", i))
		if err := volume.Save(img, imgPath); err != nil {
			return fmt.Errorf("failed to save %s: %v", imgPath, err)
		}
		if err := volume.Save(label, labelPath); err != nil {
			return fmt.Errorf("failed to save %s: %v", labelPath, err)
		}
	}
	return nil
}

// buildLoader assembles the transform pipelines and loader for one split.
// Training samples get a paired random crop; validation runs on full volumes.
func buildLoader(cfg *config.Config, images, labels []string, train bool, seed int64) (*dataset.Loader, error) {
	dsCfg := dataset.Config{
		ImageTransform: transforms.NewCompose(transforms.NewScaleIntensity(), transforms.NewAddChannel()),
		LabelTransform: transforms.NewAddChannel(),
	}
	if train {
		crop, err := transforms.NewRandSpatialCrop(cfg.Data.CropSize, rand.New(rand.NewSource(seed)))
		if err != nil {
			return nil, err
		}
		dsCfg.SharedCrop = crop
	}

	ds, err := dataset.NewPairedVolumeDataset(images, labels, dsCfg)
	if err != nil {
		return nil, err
	}
	return dataset.NewLoader(ds, dataset.LoaderConfig{
		BatchSize:  cfg.Training.BatchSize,
		Shuffle:    train,
		NumWorkers: cfg.Data.NumWorkers,
		Seed:       seed,
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
