package volume

import (
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomSlice is one parsed single-frame DICOM file awaiting stacking.
type dicomSlice struct {
	instance int
	img      image.Image
}

// ReadDICOMSeries imports a directory of single-frame DICOM slices as one
// rank-3 volume. Slices are ordered by InstanceNumber and stacked along Z.
// Pixel values are kept as raw stored values; intensity normalization is the
// transform pipeline's job. The affine is diagonal, built from PixelSpacing
// and SliceThickness when present.
func ReadDICOMSeries(dir string) (*Volume, error) {
	paths, err := SortedGlob(dir + "/*.dcm")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no DICOM files found in %s", dir)
	}

	var slices []dicomSlice
	var spacing [3]float64
	spacing = [3]float64{1, 1, 1}

	for _, path := range paths {
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DICOM file %s: %v", path, err)
		}

		pixelEl, err := ds.FindElementByTag(tag.PixelData)
		if err != nil {
			return nil, fmt.Errorf("no pixel data in %s: %v", path, err)
		}
		info := dicom.MustGetPixelDataInfo(pixelEl.Value)
		if len(info.Frames) != 1 {
			return nil, fmt.Errorf("expected single-frame DICOM in %s, got %d frames", path, len(info.Frames))
		}
		img, err := info.Frames[0].GetImage()
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame in %s: %v", path, err)
		}

		instance := len(slices)
		if el, err := ds.FindElementByTag(tag.InstanceNumber); err == nil {
			if n, ok := firstInt(el.Value.GetValue()); ok {
				instance = n
			}
		}
		if el, err := ds.FindElementByTag(tag.PixelSpacing); err == nil {
			if vals, ok := el.Value.GetValue().([]string); ok && len(vals) == 2 {
				// PixelSpacing is (row spacing, column spacing).
				if f, err := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64); err == nil {
					spacing[1] = f
				}
				if f, err := strconv.ParseFloat(strings.TrimSpace(vals[1]), 64); err == nil {
					spacing[0] = f
				}
			}
		}
		if el, err := ds.FindElementByTag(tag.SliceThickness); err == nil {
			if vals, ok := el.Value.GetValue().([]string); ok && len(vals) == 1 {
				if f, err := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64); err == nil {
					spacing[2] = f
				}
			}
		}

		slices = append(slices, dicomSlice{instance: instance, img: img})
	}

	sort.Slice(slices, func(i, j int) bool { return slices[i].instance < slices[j].instance })

	bounds := slices[0].img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	for i, s := range slices {
		b := s.img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("slice %d shape (%d, %d) does not match series shape (%d, %d)",
				i, b.Dx(), b.Dy(), width, height)
		}
	}

	v, err := New(width, height, len(slices))
	if err != nil {
		return nil, err
	}
	for z, s := range slices {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, _, _, _ := s.img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				v.Set(x, y, z, float64(r))
			}
		}
	}
	for i := 0; i < 3; i++ {
		v.Affine[i][i] = spacing[i]
	}
	return v, nil
}

func firstInt(value interface{}) (int, bool) {
	switch vals := value.(type) {
	case []int:
		if len(vals) > 0 {
			return vals[0], true
		}
	case []string:
		if len(vals) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(vals[0])); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
