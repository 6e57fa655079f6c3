// Package dataset pairs image and label volumes, applies transform pipelines
// and batches samples for the training and evaluation engines.
package dataset

import (
	"fmt"
	"sync"

	"voxseg/tensor"
	"voxseg/transforms"
	"voxseg/volume"
)

// Dataset is the contract the loader consumes: indexed access to transformed
// (image, label) tensor pairs.
type Dataset interface {
	Len() int
	Get(idx int) (image *tensor.Tensor, label *tensor.Tensor, err error)
}

// PairedVolumeDataset loads image/label volume pairs from disk, applies the
// image pipeline to images and the label pipeline to labels, and guarantees
// that a shared random crop uses one sampled offset for both volumes of a
// sample, keeping the pair spatially aligned.
type PairedVolumeDataset struct {
	imagePaths []string
	labelPaths []string
	imageTf    transforms.Transform
	labelTf    transforms.Transform
	crop       *transforms.RandSpatialCrop

	// Guards the crop's random source: loader workers call Get concurrently.
	mu sync.Mutex
}

// Config holds construction options for a paired dataset.
type Config struct {
	ImageTransform transforms.Transform        // applied to images before any shared crop
	LabelTransform transforms.Transform        // applied to labels before any shared crop
	SharedCrop     *transforms.RandSpatialCrop // optional paired random crop
}

// NewPairedVolumeDataset builds a dataset from two equal-length ordered path
// lists. A length mismatch is a construction-time error.
func NewPairedVolumeDataset(imagePaths, labelPaths []string, cfg Config) (*PairedVolumeDataset, error) {
	if len(imagePaths) != len(labelPaths) {
		return nil, fmt.Errorf("image and label lists must have equal length: %d images, %d labels",
			len(imagePaths), len(labelPaths))
	}
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("dataset must contain at least one sample")
	}
	return &PairedVolumeDataset{
		imagePaths: append([]string(nil), imagePaths...),
		labelPaths: append([]string(nil), labelPaths...),
		imageTf:    cfg.ImageTransform,
		labelTf:    cfg.LabelTransform,
		crop:       cfg.SharedCrop,
	}, nil
}

// Len returns the sample count.
func (d *PairedVolumeDataset) Len() int {
	return len(d.imagePaths)
}

// Get loads sample idx through the volume store, applies both pipelines and
// returns the transformed pair as tensors.
func (d *PairedVolumeDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.imagePaths) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.imagePaths))
	}

	img, err := volume.Load(d.imagePaths[idx])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load image %s: %v", d.imagePaths[idx], err)
	}
	label, err := volume.Load(d.labelPaths[idx])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load label %s: %v", d.labelPaths[idx], err)
	}
	if !volume.SameSpatialShape(img, label) {
		return nil, nil, fmt.Errorf("sample %d: image shape %v does not match label shape %v",
			idx, img.Shape, label.Shape)
	}

	if d.imageTf != nil {
		if img, err = d.imageTf.Apply(img); err != nil {
			return nil, nil, fmt.Errorf("image transform failed for sample %d: %v", idx, err)
		}
	}
	if d.labelTf != nil {
		if label, err = d.labelTf.Apply(label); err != nil {
			return nil, nil, fmt.Errorf("label transform failed for sample %d: %v", idx, err)
		}
	}

	if d.crop != nil {
		offset, err := d.sampleOffset(img.SpatialShape())
		if err != nil {
			return nil, nil, fmt.Errorf("crop offset for sample %d: %v", idx, err)
		}
		if img, err = d.crop.CropAt(img, offset); err != nil {
			return nil, nil, fmt.Errorf("image crop failed for sample %d: %v", idx, err)
		}
		if label, err = d.crop.CropAt(label, offset); err != nil {
			return nil, nil, fmt.Errorf("label crop failed for sample %d: %v", idx, err)
		}
	}

	imgT, err := transforms.ToTensor(img)
	if err != nil {
		return nil, nil, fmt.Errorf("image tensor conversion failed for sample %d: %v", idx, err)
	}
	labelT, err := transforms.ToTensor(label)
	if err != nil {
		return nil, nil, fmt.Errorf("label tensor conversion failed for sample %d: %v", idx, err)
	}
	return imgT, labelT, nil
}

// sampleOffset serializes offset draws so parallel workers get independent,
// reproducible-for-a-seed offsets.
func (d *PairedVolumeDataset) sampleOffset(spatial []int) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crop.SampleOffset(spatial)
}
