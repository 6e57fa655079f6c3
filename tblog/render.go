package tblog

import (
	"fmt"
	"image"
	"image/color"

	"voxseg/tensor"
)

// GrayscaleSlice renders one axial slice of a [N, C, X, Y, Z] tensor as an
// 8-bit grayscale image, min-max scaled over the slice. The x axis maps to
// image columns and y to rows.
func GrayscaleSlice(t *tensor.Tensor, sample, channel, z int) (*image.Gray, error) {
	if len(t.Shape) != 5 {
		return nil, fmt.Errorf("expected a 5D tensor, got shape %v", t.Shape)
	}
	n, c := t.Shape[0], t.Shape[1]
	sx, sy, sz := t.Shape[2], t.Shape[3], t.Shape[4]
	if sample < 0 || sample >= n || channel < 0 || channel >= c {
		return nil, fmt.Errorf("sample %d channel %d out of range for shape %v", sample, channel, t.Shape)
	}
	if z < 0 || z >= sz {
		return nil, fmt.Errorf("slice %d out of range for depth %d", z, sz)
	}

	base := (sample*c + channel) * sx * sy * sz
	lo, hi := t.Data[base+z], t.Data[base+z]
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			v := t.Data[base+(x*sy+y)*sz+z]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	scale := float32(0)
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	img := image.NewGray(image.Rect(0, 0, sx, sy))
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			v := t.Data[base+(x*sy+y)*sz+z]
			img.SetGray(x, y, color.Gray{Y: uint8((v - lo) * scale)})
		}
	}
	return img, nil
}

// Montage lays grayscale images out side by side with a one-pixel gap.
func Montage(images []*image.Gray) (*image.Gray, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("montage needs at least one image")
	}
	width := 0
	height := 0
	for _, img := range images {
		b := img.Bounds()
		width += b.Dx()
		if b.Dy() > height {
			height = b.Dy()
		}
	}
	width += len(images) - 1

	out := image.NewGray(image.Rect(0, 0, width, height))
	offset := 0
	for _, img := range images {
		b := img.Bounds()
		for x := 0; x < b.Dx(); x++ {
			for y := 0; y < b.Dy(); y++ {
				out.SetGray(offset+x, y, img.GrayAt(b.Min.X+x, b.Min.Y+y))
			}
		}
		offset += b.Dx() + 1
	}
	return out, nil
}
