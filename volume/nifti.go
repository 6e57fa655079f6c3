package volume

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NIfTI-1 data type codes used by this store.
const (
	niftiTypeFloat32 = 16
	niftiTypeFloat64 = 64
)

const niftiHeaderSize = 348
const niftiVoxOffset = 352

// niftiHeader is the fixed 348-byte NIfTI-1 header, little-endian on disk.
type niftiHeader struct {
	SizeofHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Save writes a rank-3 volume with its affine to path in NIfTI-1 single-file
// format. Paths ending in .gz are gzip-compressed. Voxels are stored as
// float64 and the affine in the sform rows, so Load is the exact inverse for
// affine values representable in float32.
func Save(v *Volume, path string) error {
	if v.Rank() != 3 {
		return fmt.Errorf("nifti save supports rank-3 volumes, got rank %d", v.Rank())
	}

	hdr := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Regular:   'r',
		Datatype:  niftiTypeFloat64,
		Bitpix:    64,
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		SformCode: 1,
	}
	hdr.Dim[0] = 3
	for i := 0; i < 3; i++ {
		hdr.Dim[1+i] = int16(v.Shape[i])
	}
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		// Voxel spacing is the Euclidean norm of the affine column.
		var sum float64
		for r := 0; r < 3; r++ {
			sum += v.Affine[r][i] * v.Affine[r][i]
		}
		hdr.Pixdim[1+i] = float32(math.Sqrt(sum))
	}
	for c := 0; c < 4; c++ {
		hdr.SrowX[c] = float32(v.Affine[0][c])
		hdr.SrowY[c] = float32(v.Affine[1][c])
		hdr.SrowZ[c] = float32(v.Affine[2][c])
	}
	copy(hdr.Magic[:], "n+1\x00")

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %v", err)
	}
	defer file.Close()

	var w io.Writer = file
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(file)
		w = gz
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write nifti header: %v", err)
	}
	// Four-byte extension flag, all zero: no header extensions.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write nifti extension flag: %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, v.Data); err != nil {
		return fmt.Errorf("failed to write voxel data: %v", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finalize compressed volume: %v", err)
		}
	}
	return nil
}

// Load reads a NIfTI-1 volume previously written by Save, or any single-file
// NIfTI-1 image with float32 or float64 voxels. It returns the volume with
// its sform affine.
func Load(path string) (*Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume file: %v", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("corrupt compressed volume %s: %v", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var hdr niftiHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("corrupt nifti header in %s: %v", path, err)
	}
	if hdr.SizeofHdr != niftiHeaderSize {
		return nil, fmt.Errorf("corrupt nifti header in %s: sizeof_hdr=%d", path, hdr.SizeofHdr)
	}
	magic := string(hdr.Magic[:3])
	if magic != "n+1" {
		return nil, fmt.Errorf("unsupported nifti magic %q in %s", magic, path)
	}
	if hdr.Dim[0] != 3 {
		return nil, fmt.Errorf("unsupported nifti rank %d in %s, want 3", hdr.Dim[0], path)
	}

	shape := []int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])}
	v, err := New(shape...)
	if err != nil {
		return nil, fmt.Errorf("invalid nifti dimensions in %s: %v", path, err)
	}

	// Skip from the end of the header to the voxel data.
	skip := int64(hdr.VoxOffset) - niftiHeaderSize
	if skip < 0 {
		return nil, fmt.Errorf("corrupt nifti header in %s: vox_offset=%g", path, hdr.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("corrupt nifti file %s: %v", path, err)
	}

	switch hdr.Datatype {
	case niftiTypeFloat64:
		if err := binary.Read(r, binary.LittleEndian, v.Data); err != nil {
			return nil, fmt.Errorf("failed to read voxel data from %s: %v", path, err)
		}
	case niftiTypeFloat32:
		buf := make([]float32, len(v.Data))
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data from %s: %v", path, err)
		}
		for i, f := range buf {
			v.Data[i] = float64(f)
		}
	default:
		return nil, fmt.Errorf("unsupported nifti datatype %d in %s", hdr.Datatype, path)
	}

	if hdr.SformCode > 0 {
		for c := 0; c < 4; c++ {
			v.Affine[0][c] = float64(hdr.SrowX[c])
			v.Affine[1][c] = float64(hdr.SrowY[c])
			v.Affine[2][c] = float64(hdr.SrowZ[c])
		}
		v.Affine[3] = [4]float64{0, 0, 0, 1}
	} else {
		v.Affine = IdentityAffine()
		for i := 0; i < 3; i++ {
			v.Affine[i][i] = float64(hdr.Pixdim[1+i])
		}
	}

	return v, nil
}

// SortedGlob returns the paths matching pattern in lexicographic order. Image
// and label files pair up by position in the two sorted lists, so filenames
// must sort consistently with their numeric suffix. Unpadded indices break
// this for 100 or more samples; that matches the demo generator's naming and
// is deliberately not papered over here.
func SortedGlob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %v", pattern, err)
	}
	// filepath.Glob already sorts, but do not rely on that detail.
	sort.Strings(matches)
	return matches, nil
}
