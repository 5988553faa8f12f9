package volume

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	niftihdr "pancreasprep/pkg/nifti"
)

// gradientImage builds an image whose voxel value encodes its position, so
// any axis mix-up shows up as a value mismatch.
func gradientImage(nx, ny, nz int) *models.Image {
	vol := models.NewVolume("gradient", nx, ny, nz)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				vol.Set(x, y, z, float64(100*x+10*y+z))
			}
		}
	}
	return &models.Image{
		Geometry: models.Geometry{
			Origin:    [3]float64{-20, 35, 4},
			Spacing:   [3]float64{0.8, 0.8, 2},
			Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		},
		Volume: vol,
	}
}

func TestWriteThenDecode(t *testing.T) {
	for _, name := range []string{"case.nii", "case.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			src := gradientImage(5, 4, 3)
			require.NoError(t, Write(path, src))

			img, vol, err := Decode(path)
			require.NoError(t, err)

			assert.Equal(t, path, vol.Name)
			assert.Equal(t, [3]int{5, 4, 3}, vol.Shape())
			assert.Equal(t, vol.Shape()[0]*vol.Shape()[1]*vol.Shape()[2], len(vol.Data))
			assert.Same(t, vol, img.Volume)

			for x := 0; x < 5; x++ {
				for y := 0; y < 4; y++ {
					for z := 0; z < 3; z++ {
						require.Equal(t, float64(100*x+10*y+z), vol.At(x, y, z), "voxel %d,%d,%d", x, y, z)
					}
				}
			}

			for i := 0; i < 3; i++ {
				assert.InDelta(t, src.Geometry.Origin[i], img.Geometry.Origin[i], 1e-4)
				assert.InDelta(t, src.Geometry.Spacing[i], img.Geometry.Spacing[i], 1e-4)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Decode(filepath.Join(dir, "missing.nii.gz"))
	assert.ErrorIs(t, err, dataerr.ErrDecode)
	assert.ErrorIs(t, err, os.ErrNotExist)

	junk := filepath.Join(dir, "junk.nii")
	require.NoError(t, os.WriteFile(junk, []byte("not a nifti file"), 0644))
	_, _, err = Decode(junk)
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	_, _, err = Decode(filepath.Join(dir, "scan.mha"))
	var de *dataerr.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Detail, "extension")
}

// writeTyped writes a plain .nii file holding payload (a slice of the
// datatype's Go type, storage order) with the given byte order and scaling.
func writeTyped(t *testing.T, path string, order binary.ByteOrder, dims [3]int, datatype, bitpix int16, slope, inter float32, payload any) {
	t.Helper()
	h := niftihdr.NewHeader(dims, models.IdentityGeometry())
	h.Datatype, h.Bitpix = datatype, bitpix
	h.SclSlope, h.SclInter = slope, inter

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, order, &h))
	buf.Write([]byte{0, 0, 0, 0})
	require.NoError(t, binary.Write(&buf, order, payload))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestDecodeStoredTypes(t *testing.T) {
	dims := [3]int{2, 1, 1}
	for name, tc := range map[string]struct {
		order    binary.ByteOrder
		datatype int16
		bitpix   int16
		payload  any
		want     []float64
	}{
		"int16":            {binary.LittleEndian, niftihdr.DTInt16, 16, []int16{-1000, 40}, []float64{-1000, 40}},
		"int16 big-endian": {binary.BigEndian, niftihdr.DTInt16, 16, []int16{-1000, 40}, []float64{-1000, 40}},
		"int32":            {binary.LittleEndian, niftihdr.DTInt32, 32, []int32{1, 2}, []float64{1, 2}},
		"int32 big-endian": {binary.BigEndian, niftihdr.DTInt32, 32, []int32{-7, 2}, []float64{-7, 2}},
		"int8":             {binary.LittleEndian, niftihdr.DTInt8, 8, []int8{-3, 3}, []float64{-3, 3}},
		"uint8":            {binary.LittleEndian, niftihdr.DTUint8, 8, []uint8{0, 255}, []float64{0, 255}},
		"uint16":           {binary.LittleEndian, niftihdr.DTUint16, 16, []uint16{0, 60000}, []float64{0, 60000}},
		"uint32":           {binary.LittleEndian, niftihdr.DTUint32, 32, []uint32{7, 4000000000}, []float64{7, 4000000000}},
		"float32":          {binary.LittleEndian, niftihdr.DTFloat32, 32, []float32{-1.5, 2.25}, []float64{-1.5, 2.25}},
		"float32 big":      {binary.BigEndian, niftihdr.DTFloat32, 32, []float32{-1.5, 2.25}, []float64{-1.5, 2.25}},
		"float64":          {binary.LittleEndian, niftihdr.DTFloat64, 64, []float64{-0.1, 1e10}, []float64{-0.1, 1e10}},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "typed.nii")
			writeTyped(t, path, tc.order, dims, tc.datatype, tc.bitpix, 1, 0, tc.payload)

			_, vol, err := Decode(path)
			require.NoError(t, err)
			assert.Equal(t, dims, vol.Shape())
			assert.Equal(t, tc.want, vol.Data)
		})
	}
}

func TestDecodeAppliesScaling(t *testing.T) {
	dir := t.TempDir()

	// stored CT values with the usual rescale to Hounsfield units
	ct := filepath.Join(dir, "ct.nii")
	writeTyped(t, ct, binary.LittleEndian, [3]int{3, 1, 1}, niftihdr.DTUint16, 16, 1, -1024, []uint16{0, 1024, 1064})
	_, vol, err := Decode(ct)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1024, 0, 40}, vol.Data)

	scaled := filepath.Join(dir, "scaled.nii")
	writeTyped(t, scaled, binary.BigEndian, [3]int{2, 1, 1}, niftihdr.DTInt16, 16, 0.5, 10, []int16{-4, 4})
	_, vol, err = Decode(scaled)
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 12}, vol.Data)

	// a zero slope leaves the stored values alone
	raw := filepath.Join(dir, "raw.nii")
	writeTyped(t, raw, binary.LittleEndian, [3]int{2, 1, 1}, niftihdr.DTInt16, 16, 0, 99, []int16{-4, 4})
	_, vol, err = Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{-4, 4}, vol.Data)
}

func TestDecodeRejectsUnsupportedTypes(t *testing.T) {
	dir := t.TempDir()

	rgb := filepath.Join(dir, "rgb.nii")
	writeTyped(t, rgb, binary.LittleEndian, [3]int{1, 1, 1}, 128, 24, 1, 0, []uint8{1, 2, 3})
	_, _, err := Decode(rgb)
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	mismatch := filepath.Join(dir, "mismatch.nii")
	writeTyped(t, mismatch, binary.LittleEndian, [3]int{2, 1, 1}, niftihdr.DTInt16, 32, 1, 0, []int32{1, 2})
	_, _, err = Decode(mismatch)
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	short := filepath.Join(dir, "short.nii")
	writeTyped(t, short, binary.LittleEndian, [3]int{4, 1, 1}, niftihdr.DTInt16, 16, 1, 0, []int16{1, 2})
	_, _, err = Decode(short)
	assert.ErrorIs(t, err, dataerr.ErrDecode)
}

func TestDecodeStorageOrderIsXFastest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order.nii")
	// 2x2x2, value = 100x + 10y + z
	writeTyped(t, path, binary.BigEndian, [3]int{2, 2, 2}, niftihdr.DTInt16, 16, 1, 0,
		[]int16{0, 100, 10, 110, 1, 101, 11, 111})
	_, vol, err := Decode(path)
	require.NoError(t, err)
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				assert.Equal(t, float64(100*x+10*y+z), vol.At(x, y, z))
			}
		}
	}
}

func TestDerivedVolumeKeepsGeometry(t *testing.T) {
	dir := t.TempDir()
	src := gradientImage(3, 3, 3)

	field := src.Volume.Clone("field")
	for i := range field.Data {
		field.Data[i] = -field.Data[i]
	}
	path := filepath.Join(dir, "field.nii.gz")
	require.NoError(t, Write(path, Derive(src, field)))

	img, vol, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, -211.0, vol.At(2, 1, 1))
	assert.InDelta(t, 2.0, img.Geometry.Spacing[2], 1e-6)
}

func TestSummarize(t *testing.T) {
	vol := &models.Volume{Dims: [3]int{2, 2, 1}, Data: []float64{0, 2, 4, 6}}
	s := Summarize(vol)
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 6.0, s.Max)
	assert.InDelta(t, 3.0, s.Mean, 1e-12)
	assert.Equal(t, 3, s.NonZero)
	assert.Contains(t, s.String(), "nonzero=3")
}
