package tblog

import (
	"encoding/binary"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"voxseg/tensor"
)

// readRecords parses a TFRecord stream, verifying both checksums.
func readRecords(t *testing.T, path string) [][]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read event file: %v", err)
	}

	var records [][]byte
	for len(data) > 0 {
		if len(data) < 12 {
			t.Fatalf("truncated record header, %d bytes left", len(data))
		}
		length := binary.LittleEndian.Uint64(data[0:8])
		if got := binary.LittleEndian.Uint32(data[8:12]); got != maskedCRC(data[0:8]) {
			t.Fatal("length checksum mismatch")
		}
		payload := data[12 : 12+length]
		footer := binary.LittleEndian.Uint32(data[12+length : 16+length])
		if footer != maskedCRC(payload) {
			t.Fatal("payload checksum mismatch")
		}
		records = append(records, payload)
		data = data[16+length:]
	}
	return records
}

// eventFields pulls the step, file_version and first simple_value out of an
// encoded Event proto.
func eventFields(t *testing.T, payload []byte) (step int64, version string, scalar float32, hasScalar bool) {
	t.Helper()
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			t.Fatal("bad tag in event payload")
		}
		payload = payload[n:]
		switch {
		case num == 1 && typ == protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(payload)
		case num == 2 && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(payload)
			step = int64(v)
		case num == 3 && typ == protowire.BytesType:
			var b []byte
			b, n = protowire.ConsumeBytes(payload)
			version = string(b)
		case num == 5 && typ == protowire.BytesType:
			var summary []byte
			summary, n = protowire.ConsumeBytes(payload)
			scalar, hasScalar = firstSimpleValue(t, summary)
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			t.Fatal("bad field in event payload")
		}
		payload = payload[n:]
	}
	return step, version, scalar, hasScalar
}

func firstSimpleValue(t *testing.T, summary []byte) (float32, bool) {
	t.Helper()
	for len(summary) > 0 {
		num, typ, n := protowire.ConsumeTag(summary)
		if n < 0 {
			t.Fatal("bad tag in summary")
		}
		summary = summary[n:]
		if num == 1 && typ == protowire.BytesType {
			value, n := protowire.ConsumeBytes(summary)
			if n < 0 {
				t.Fatal("bad value in summary")
			}
			for len(value) > 0 {
				vnum, vtyp, vn := protowire.ConsumeTag(value)
				if vn < 0 {
					t.Fatal("bad tag in summary value")
				}
				value = value[vn:]
				if vnum == 2 && vtyp == protowire.Fixed32Type {
					bits, _ := protowire.ConsumeFixed32(value)
					return math.Float32frombits(bits), true
				}
				vn = protowire.ConsumeFieldValue(vnum, vtyp, value)
				if vn < 0 {
					t.Fatal("bad field in summary value")
				}
				value = value[vn:]
			}
			return 0, false
		}
		n = protowire.ConsumeFieldValue(num, typ, summary)
		if n < 0 {
			t.Fatal("bad field in summary")
		}
		summary = summary[n:]
	}
	return 0, false
}

func TestEventWriterScalars(t *testing.T) {
	dir := t.TempDir()
	w, err := NewEventWriter(dir)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if err := w.AddScalar("train/loss", 1, 0.75); err != nil {
		t.Fatalf("failed to add scalar: %v", err)
	}
	if err := w.AddScalar("train/loss", 2, 0.5); err != nil {
		t.Fatalf("failed to add scalar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(w.Path()), "events.out.tfevents.") {
		t.Errorf("unexpected event file name %q", filepath.Base(w.Path()))
	}

	records := readRecords(t, w.Path())
	if len(records) != 3 {
		t.Fatalf("expected 3 records (header + 2 scalars), got %d", len(records))
	}

	_, version, _, _ := eventFields(t, records[0])
	if version != "brain.Event:2" {
		t.Errorf("expected file version brain.Event:2, got %q", version)
	}

	step, _, value, ok := eventFields(t, records[2])
	if !ok {
		t.Fatal("second scalar record has no simple_value")
	}
	if step != 2 {
		t.Errorf("expected step 2, got %d", step)
	}
	if math.Abs(float64(value-0.5)) > 1e-6 {
		t.Errorf("expected value 0.5, got %v", value)
	}
}

func TestEventWriterImage(t *testing.T) {
	w, err := NewEventWriter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	if err := w.AddImage("val/slices", 1, img); err != nil {
		t.Fatalf("failed to add image: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	records := readRecords(t, w.Path())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestGrayscaleSliceAndMontage(t *testing.T) {
	data := make([]float32, 2*3*4)
	for i := range data {
		data[i] = float32(i)
	}
	tn, err := tensor.New([]int{1, 1, 2, 3, 4}, data)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}

	img, err := GrayscaleSlice(tn, 0, 0, 2)
	if err != nil {
		t.Fatalf("failed to render slice: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 3 {
		t.Errorf("expected 2x3 image, got %v", img.Bounds())
	}
	// Highest value in the slice maps to white.
	if img.GrayAt(1, 2).Y != 255 {
		t.Errorf("expected max voxel to render as 255, got %d", img.GrayAt(1, 2).Y)
	}

	if _, err := GrayscaleSlice(tn, 0, 0, 9); err == nil {
		t.Error("expected error for out-of-range slice, got nil")
	}

	montage, err := Montage([]*image.Gray{img, img, img})
	if err != nil {
		t.Fatalf("failed to build montage: %v", err)
	}
	if montage.Bounds().Dx() != 3*2+2 {
		t.Errorf("unexpected montage width %d", montage.Bounds().Dx())
	}
}
