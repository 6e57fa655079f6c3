package dataset

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"voxseg/tensor"
	"voxseg/transforms"
	"voxseg/volume"
)

// writePairs generates n image/label pairs on disk and returns the two path
// lists. Image voxels equal label voxels so crop alignment is observable.
func writePairs(t *testing.T, dir string, n, size int) ([]string, []string) {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	var imagePaths, labelPaths []string
	for i := 0; i < n; i++ {
		img, label, err := volume.GenerateSegmentationPair(size, size, size, volume.DefaultGeneratorConfig(), rng)
		if err != nil {
			t.Fatalf("generation failed: %v", err)
		}
		// Make image identical to label so aligned crops are exactly equal.
		copy(img.Data, label.Data)

		imgPath := filepath.Join(dir, fmt.Sprintf("im%d.nii.gz", i))
		labelPath := filepath.Join(dir, fmt.Sprintf("seg%d.nii.gz", i))
		if err := volume.Save(img, imgPath); err != nil {
			t.Fatalf("save image failed: %v", err)
		}
		if err := volume.Save(label, labelPath); err != nil {
			t.Fatalf("save label failed: %v", err)
		}
		imagePaths = append(imagePaths, imgPath)
		labelPaths = append(labelPaths, labelPath)
	}
	return imagePaths, labelPaths
}

func TestNewPairedVolumeDatasetLengthMismatch(t *testing.T) {
	imagePaths, labelPaths := writePairs(t, t.TempDir(), 2, 8)
	if _, err := NewPairedVolumeDataset(imagePaths, labelPaths[:1], Config{}); err == nil {
		t.Error("expected construction error for mismatched list lengths")
	}
	if _, err := NewPairedVolumeDataset(nil, nil, Config{}); err == nil {
		t.Error("expected construction error for empty dataset")
	}
}

func TestPairedCropAlignment(t *testing.T) {
	imagePaths, labelPaths := writePairs(t, t.TempDir(), 3, 16)
	rng := rand.New(rand.NewSource(17))
	crop, err := transforms.NewRandSpatialCrop([]int{8, 8, 8}, rng)
	if err != nil {
		t.Fatalf("failed to create crop: %v", err)
	}
	ds, err := NewPairedVolumeDataset(imagePaths, labelPaths, Config{
		ImageTransform: transforms.NewCompose(transforms.NewAddChannel()),
		LabelTransform: transforms.NewCompose(transforms.NewAddChannel()),
		SharedCrop:     crop,
	})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	for trial := 0; trial < 10; trial++ {
		img, label, err := ds.Get(trial % ds.Len())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !tensor.ShapesEqual(img.Shape, []int{1, 8, 8, 8}) {
			t.Fatalf("unexpected image shape %v", img.Shape)
		}
		if !tensor.ShapesEqual(img.Shape, label.Shape) {
			t.Fatalf("image shape %v does not match label shape %v", img.Shape, label.Shape)
		}
		// Image data equals label data on disk, so an aligned crop pair must
		// be voxel-for-voxel identical.
		for i := range img.Data {
			if img.Data[i] != label.Data[i] {
				t.Fatalf("trial %d: crop misaligned at voxel %d: image %g, label %g",
					trial, i, img.Data[i], label.Data[i])
			}
		}
	}
}

func TestLoaderBatchShapes(t *testing.T) {
	imagePaths, labelPaths := writePairs(t, t.TempDir(), 5, 8)
	ds, err := NewPairedVolumeDataset(imagePaths, labelPaths, Config{
		ImageTransform: transforms.NewCompose(transforms.NewAddChannel()),
		LabelTransform: transforms.NewCompose(transforms.NewAddChannel()),
	})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 2, NumWorkers: 2})
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	if loader.NumBatches() != 3 {
		t.Errorf("expected 3 batches for 5 samples at batch size 2, got %d", loader.NumBatches())
	}

	sizes := []int{2, 2, 1}
	for i, want := range sizes {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("batch %d failed: %v", i, err)
		}
		if batch == nil {
			t.Fatalf("batch %d: unexpected end of pass", i)
		}
		if batch.Size() != want {
			t.Errorf("batch %d: expected size %d, got %d", i, want, batch.Size())
		}
		wantShape := []int{want, 1, 8, 8, 8}
		if !tensor.ShapesEqual(batch.Images.Shape, wantShape) {
			t.Errorf("batch %d: expected image shape %v, got %v", i, wantShape, batch.Images.Shape)
		}
	}

	batch, err := loader.Next()
	if err != nil {
		t.Fatalf("post-pass call failed: %v", err)
	}
	if batch != nil {
		t.Error("expected nil batch after pass exhaustion")
	}
}

func TestLoaderShufflePassCoverage(t *testing.T) {
	imagePaths, labelPaths := writePairs(t, t.TempDir(), 10, 8)
	ds, err := NewPairedVolumeDataset(imagePaths, labelPaths, Config{
		ImageTransform: transforms.NewCompose(transforms.NewAddChannel()),
		LabelTransform: transforms.NewCompose(transforms.NewAddChannel()),
	})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 3, Shuffle: true, NumWorkers: 4, Seed: 1})
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}

	for pass := 0; pass < 2; pass++ {
		seen := make(map[int]int)
		for {
			batch, err := loader.Next()
			if err != nil {
				t.Fatalf("pass %d failed: %v", pass, err)
			}
			if batch == nil {
				break
			}
			for _, idx := range batch.Indices {
				seen[idx]++
			}
		}
		if len(seen) != 10 {
			t.Fatalf("pass %d: expected 10 distinct indices, got %d", pass, len(seen))
		}
		for idx, count := range seen {
			if count != 1 {
				t.Fatalf("pass %d: index %d appeared %d times", pass, idx, count)
			}
		}
		loader.Reset()
	}
}
