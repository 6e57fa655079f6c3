package transforms

import (
	"math"
	"math/rand"
	"testing"

	"voxseg/volume"
)

func testVolume(t *testing.T, x, y, z int) *volume.Volume {
	t.Helper()
	v, err := volume.New(x, y, z)
	if err != nil {
		t.Fatalf("failed to create volume: %v", err)
	}
	return v
}

func TestScaleIntensity(t *testing.T) {
	v := testVolume(t, 2, 2, 2)
	for i := range v.Data {
		v.Data[i] = float64(i) * 10
	}
	out, err := NewScaleIntensity().Apply(v)
	if err != nil {
		t.Fatalf("scale failed: %v", err)
	}
	if out.Data[0] != 0 {
		t.Errorf("expected minimum to map to 0, got %g", out.Data[0])
	}
	if out.Data[7] != 1 {
		t.Errorf("expected maximum to map to 1, got %g", out.Data[7])
	}
	// Input must be untouched.
	if v.Data[7] != 70 {
		t.Errorf("input was modified in place: %g", v.Data[7])
	}
}

func TestScaleIntensityConstantVolume(t *testing.T) {
	v := testVolume(t, 3, 3, 3)
	for i := range v.Data {
		v.Data[i] = 4.2
	}
	out, err := NewScaleIntensity().Apply(v)
	if err != nil {
		t.Fatalf("scale failed on constant volume: %v", err)
	}
	for i, val := range out.Data {
		if val != 0 {
			t.Fatalf("constant volume must map to the lower bound, voxel %d is %g", i, val)
		}
	}
}

func TestAddChannel(t *testing.T) {
	v := testVolume(t, 4, 5, 6)
	out, err := NewAddChannel().Apply(v)
	if err != nil {
		t.Fatalf("add channel failed: %v", err)
	}
	want := []int{1, 4, 5, 6}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Fatalf("expected shape %v, got %v", want, out.Shape)
		}
	}

	if _, err := NewAddChannel().Apply(out); err == nil {
		t.Error("expected error applying add channel to a channelled volume")
	}
}

func TestRandSpatialCropBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	crop, err := NewRandSpatialCrop([]int{4, 4, 4}, rng)
	if err != nil {
		t.Fatalf("failed to create crop: %v", err)
	}

	v := testVolume(t, 8, 8, 8)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	for trial := 0; trial < 50; trial++ {
		out, err := crop.Apply(v)
		if err != nil {
			t.Fatalf("crop failed: %v", err)
		}
		if out.Shape[0] != 4 || out.Shape[1] != 4 || out.Shape[2] != 4 {
			t.Fatalf("expected shape [4 4 4], got %v", out.Shape)
		}
	}

	small := testVolume(t, 3, 8, 8)
	if _, err := crop.Apply(small); err == nil {
		t.Error("expected error when crop exceeds input shape")
	}
}

func TestCropAtExtractsAlignedRegion(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	crop, err := NewRandSpatialCrop([]int{2, 2, 2}, rng)
	if err != nil {
		t.Fatalf("failed to create crop: %v", err)
	}
	v := testVolume(t, 4, 4, 4)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	offset := []int{1, 2, 1}
	out, err := crop.CropAt(v, offset)
	if err != nil {
		t.Fatalf("crop at offset failed: %v", err)
	}
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				want := v.At(x+1, y+2, z+1)
				if got := out.At(x, y, z); got != want {
					t.Fatalf("voxel (%d,%d,%d): expected %g, got %g", x, y, z, want, got)
				}
			}
		}
	}
}

func TestResizeExactShapeAndDeterminism(t *testing.T) {
	v := testVolume(t, 6, 6, 6)
	rng := rand.New(rand.NewSource(9))
	for i := range v.Data {
		v.Data[i] = rng.Float64()
	}
	resize, err := NewResize([]int{4, 5, 3})
	if err != nil {
		t.Fatalf("failed to create resize: %v", err)
	}
	a, err := resize.Apply(v)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if a.Shape[0] != 4 || a.Shape[1] != 5 || a.Shape[2] != 3 {
		t.Fatalf("expected shape [4 5 3], got %v", a.Shape)
	}
	b, err := resize.Apply(v)
	if err != nil {
		t.Fatalf("second resize failed: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("resize is not deterministic at voxel %d", i)
		}
	}
}

func TestResizeIdentity(t *testing.T) {
	v := testVolume(t, 4, 4, 4)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	resize, err := NewResize([]int{4, 4, 4})
	if err != nil {
		t.Fatalf("failed to create resize: %v", err)
	}
	out, err := resize.Apply(v)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	for i := range v.Data {
		if math.Abs(out.Data[i]-v.Data[i]) > 1e-12 {
			t.Fatalf("identity resize changed voxel %d: %g vs %g", i, out.Data[i], v.Data[i])
		}
	}
}

func TestComposeFailsFast(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	crop, err := NewRandSpatialCrop([]int{16, 16, 16}, rng)
	if err != nil {
		t.Fatalf("failed to create crop: %v", err)
	}
	pipeline := NewCompose(NewScaleIntensity(), NewAddChannel(), crop)
	v := testVolume(t, 8, 8, 8)
	if _, err := pipeline.Apply(v); err == nil {
		t.Error("expected pipeline error for oversized crop")
	}
}

func TestToTensorPreservesValues(t *testing.T) {
	v := testVolume(t, 2, 2, 2)
	for i := range v.Data {
		v.Data[i] = float64(i) / 2
	}
	tt, err := ToTensor(v)
	if err != nil {
		t.Fatalf("tensor conversion failed: %v", err)
	}
	if len(tt.Shape) != 3 || tt.Shape[0] != 2 {
		t.Fatalf("unexpected tensor shape %v", tt.Shape)
	}
	for i := range v.Data {
		if float64(tt.Data[i]) != v.Data[i] {
			t.Fatalf("value mismatch at %d: %g vs %g", i, tt.Data[i], v.Data[i])
		}
	}
}
