package dicomconv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/dicomuid"
	"github.com/suyashkumar/dicom/element"
	"github.com/suyashkumar/dicom/frame"
	"github.com/suyashkumar/dicom/write"

	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	"pancreasprep/pkg/volume"
)

func TestSliceFromTags(t *testing.T) {
	tags := TagMap{
		dicomtag.SeriesInstanceUID:       {"1.2.3 "},
		dicomtag.Rows:                    {uint16(512)},
		dicomtag.Columns:                 {uint16(256)},
		dicomtag.ImagePositionPatient:    {"-150.5", "-170", " 12.25"},
		dicomtag.ImageOrientationPatient: {"1", "0", "0", "0", "1", "0"},
		dicomtag.PixelSpacing:            {"0.7", "0.8"},
		dicomtag.SliceThickness:          {"2.5"},
		dicomtag.RescaleSlope:            {"1"},
		dicomtag.RescaleIntercept:        {"-1024"},
	}
	s, err := SliceFromTags("a.dcm", tags)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", s.SeriesUID)
	assert.Equal(t, 512, s.Rows)
	assert.Equal(t, 256, s.Cols)
	assert.Equal(t, [3]float64{-150.5, -170, 12.25}, s.Position)
	assert.Equal(t, [2]float64{0.7, 0.8}, s.PixelSpacing)
	assert.Equal(t, 2.5, s.Thickness)
	assert.Equal(t, -1024.0, s.Intercept)

	// rescale defaults
	delete(tags, dicomtag.RescaleSlope)
	delete(tags, dicomtag.RescaleIntercept)
	s, err = SliceFromTags("a.dcm", tags)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Slope)
	assert.Equal(t, 0.0, s.Intercept)

	delete(tags, dicomtag.ImagePositionPatient)
	_, err = SliceFromTags("a.dcm", tags)
	var de *dataerr.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "a.dcm", de.Path)
}

// axialSlice builds a 3x2 slice at height z whose pixels encode z and their
// position in the slice.
func axialSlice(uid string, z float64) *Slice {
	s := &Slice{
		Path:         fmt.Sprintf("%s-%g.dcm", uid, z),
		SeriesUID:    uid,
		Position:     [3]float64{-10, -20, z},
		Orientation:  [6]float64{1, 0, 0, 0, 1, 0},
		PixelSpacing: [2]float64{0.8, 0.6},
		Thickness:    2.5,
		Rows:         2,
		Cols:         3,
		Slope:        2,
		Intercept:    -1000,
	}
	for j := 0; j < 6; j++ {
		s.Pixels = append(s.Pixels, int(z)*10+j)
	}
	return s
}

func TestAssembleSortsAlongNormal(t *testing.T) {
	slices := []*Slice{
		axialSlice("main", 15),
		axialSlice("scout", 0),
		axialSlice("main", 10),
		axialSlice("main", 12.5),
	}
	img, err := Assemble(slices)
	require.NoError(t, err)

	vol := img.Volume
	assert.Equal(t, [3]int{3, 2, 3}, vol.Dims)
	assert.Equal(t, [3]float64{-10, -20, 10}, img.Geometry.Origin)
	assert.InDelta(t, 0.6, img.Geometry.Spacing[0], 1e-12)
	assert.InDelta(t, 0.8, img.Geometry.Spacing[1], 1e-12)
	assert.InDelta(t, 2.5, img.Geometry.Spacing[2], 1e-12)
	assert.Equal(t, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, img.Geometry.Direction)

	// pixel j of the slice at height z stored (z*10 + j), rescaled by 2x - 1000
	for z, height := range []int{10, 12, 15} {
		for j := 0; j < 6; j++ {
			want := float64(height*10+j)*2 - 1000
			assert.Equal(t, want, vol.At(j%3, j/3, z), "slice %d pixel %d", z, j)
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	_, err := Assemble(nil)
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	odd := axialSlice("s", 2)
	odd.Rows = 3
	_, err = Assemble([]*Slice{axialSlice("s", 1), odd})
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	_, err = Assemble([]*Slice{axialSlice("s", 1), axialSlice("s", 1)})
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	tilted := axialSlice("s", 2)
	tilted.Orientation = [6]float64{0, 1, 0, 0, 0, 1}
	_, err = Assemble([]*Slice{axialSlice("s", 1), tilted})
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	short := axialSlice("s", 2)
	short.Pixels = short.Pixels[:4]
	_, err = Assemble([]*Slice{short})
	assert.ErrorIs(t, err, dataerr.ErrDecode)
}

func TestAssembleSingleSliceUsesThickness(t *testing.T) {
	img, err := Assemble([]*Slice{axialSlice("s", 7)})
	require.NoError(t, err)
	assert.Equal(t, 2.5, img.Geometry.Spacing[2])
}

func rampVolume(nx, ny, nz int) *models.Volume {
	vol := models.NewVolume("", nx, ny, nz)
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	return vol
}

func TestReorient(t *testing.T) {
	cases := map[string][9]float64{
		// row/column cosines -x, +y; normal -z
		"flipped axial": {-1, 0, 0, 0, 1, 0, 0, 0, -1},
		// sagittal: columns run along +y, rows along -z, slices along -x
		"sagittal": {0, 0, -1, 1, 0, 0, 0, -1, 0},
		"identity": {1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
	for name, dir := range cases {
		t.Run(name, func(t *testing.T) {
			src := &models.Image{
				Geometry: models.Geometry{
					Origin:    [3]float64{5, -3, 40},
					Spacing:   [3]float64{0.5, 0.7, 2},
					Direction: dir,
				},
				Volume: rampVolume(4, 3, 2),
			}
			out := Reorient(src)

			// diagonal-dominant with positive diagonal
			for k := 0; k < 3; k++ {
				assert.InDelta(t, 1, out.Geometry.Direction[4*k], 1e-12)
			}
			assert.Equal(t, src.Volume.Len(), out.Volume.Len())

			// every voxel keeps its value at its physical position
			d := src.Volume.Dims
			for x := 0; x < d[0]; x++ {
				for y := 0; y < d[1]; y++ {
					for z := 0; z < d[2]; z++ {
						p := src.Geometry.IndexToPhysical([3]float64{float64(x), float64(y), float64(z)})
						idx, err := out.Geometry.PhysicalToIndex(p)
						require.NoError(t, err)
						require.True(t, out.Volume.Contains(idx[0], idx[1], idx[2]), "index %v", idx)
						require.Equal(t, src.Volume.At(x, y, z), out.Volume.At(idx[0], idx[1], idx[2]))
					}
				}
			}
		})
	}
}

func TestReorientSagittalShape(t *testing.T) {
	src := &models.Image{
		Geometry: models.Geometry{
			Spacing:   [3]float64{0.5, 0.7, 2},
			Direction: [9]float64{0, 0, -1, 1, 0, 0, 0, -1, 0},
		},
		Volume: rampVolume(4, 3, 2),
	}
	out := Reorient(src)
	assert.Equal(t, [3]int{2, 4, 3}, out.Volume.Dims)
	assert.Equal(t, [3]float64{2, 0.5, 0.7}, out.Geometry.Spacing)
}

func TestConvertSeriesWithoutDICOM(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a dicom file"), 0644))

	_, err := ConvertSeries(context.Background(), dir, filepath.Join(dir, "out.nii.gz"), Options{Workers: 2})
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	_, err = ReadSeries(context.Background(), filepath.Join(dir, "missing"), Options{})
	assert.ErrorIs(t, err, dataerr.ErrMissingInput)
}

// pixelTags returns the tags of a one-pixel slice whose stored sample is raw,
// as the parser reports it (always unsigned).
func pixelTags(raw int, signed bool, bitsStored int) TagMap {
	rep := uint16(0)
	if signed {
		rep = 1
	}
	return TagMap{
		dicomtag.Rows:                    {uint16(1)},
		dicomtag.Columns:                 {uint16(1)},
		dicomtag.ImagePositionPatient:    {"0", "0", "0"},
		dicomtag.ImageOrientationPatient: {"1", "0", "0", "0", "1", "0"},
		dicomtag.PixelSpacing:            {"1", "1"},
		dicomtag.BitsAllocated:           {uint16(16)},
		dicomtag.BitsStored:              {uint16(bitsStored)},
		dicomtag.PixelRepresentation:     {rep},
		dicomtag.PixelData: {element.PixelDataInfo{Frames: []frame.Frame{{
			NativeData: frame.NativeFrame{BitsPerSample: 16, Rows: 1, Cols: 1, Data: [][]int{{raw}}},
		}}}},
	}
}

func TestSignedPixels(t *testing.T) {
	for name, tc := range map[string]struct {
		raw        int
		signed     bool
		bitsStored int
		want       int
	}{
		"signed 16 bit":       {63536, true, 16, -2000},
		"signed positive":     {40, true, 16, 40},
		"signed 12 bit":       {2096, true, 12, -2000},
		"signed 12 bit noise": {0xF000 | 2096, true, 12, -2000},
		"unsigned":            {63536, false, 16, 63536},
	} {
		t.Run(name, func(t *testing.T) {
			tags := pixelTags(tc.raw, tc.signed, tc.bitsStored)
			s, err := SliceFromTags("a.dcm", tags)
			require.NoError(t, err)
			assert.Equal(t, tc.signed, s.Signed)
			assert.Equal(t, tc.bitsStored, s.BitsStored)

			px, err := pixels(tags, s)
			require.NoError(t, err)
			assert.Equal(t, []int{tc.want}, px)
		})
	}
}

func TestSampleLayoutErrors(t *testing.T) {
	tags := pixelTags(1, true, 16)
	tags[dicomtag.BitsAllocated] = []interface{}{uint16(32)}
	_, err := SliceFromTags("a.dcm", tags)
	assert.ErrorIs(t, err, dataerr.ErrDecode)

	tags = pixelTags(1, true, 17)
	_, err = SliceFromTags("a.dcm", tags)
	assert.ErrorIs(t, err, dataerr.ErrDecode)
}

// writeSlice writes a native 16-bit CT slice in explicit VR little endian.
// stored holds rows*cols samples, row by row.
func writeSlice(t *testing.T, path, seriesUID string, z float64, rows, cols int, stored []int, signed bool) {
	t.Helper()
	data := make([][]int, len(stored))
	for j, v := range stored {
		data[j] = []int{v}
	}
	rep := uint16(0)
	if signed {
		rep = 1
	}
	pixelData := element.PixelDataInfo{Frames: []frame.Frame{{
		NativeData: frame.NativeFrame{BitsPerSample: 16, Rows: rows, Cols: cols, Data: data},
	}}}

	ds := &element.DataSet{Elements: []*element.Element{
		element.MustNewElement(dicomtag.MediaStorageSOPClassUID, "1.2.840.10008.5.1.4.1.1.2"),
		element.MustNewElement(dicomtag.MediaStorageSOPInstanceUID, fmt.Sprintf("%s.%d", seriesUID, int(z*10))),
		element.MustNewElement(dicomtag.TransferSyntaxUID, dicomuid.ExplicitVRLittleEndian),
		element.MustNewElement(dicomtag.SliceThickness, "2.5"),
		element.MustNewElement(dicomtag.SeriesInstanceUID, seriesUID),
		element.MustNewElement(dicomtag.ImagePositionPatient, "-10", "-20", strconv.FormatFloat(z, 'f', -1, 64)),
		element.MustNewElement(dicomtag.ImageOrientationPatient, "1", "0", "0", "0", "1", "0"),
		element.MustNewElement(dicomtag.SamplesPerPixel, uint16(1)),
		element.MustNewElement(dicomtag.Rows, uint16(rows)),
		element.MustNewElement(dicomtag.Columns, uint16(cols)),
		element.MustNewElement(dicomtag.PixelSpacing, "0.8", "0.6"),
		element.MustNewElement(dicomtag.BitsAllocated, uint16(16)),
		element.MustNewElement(dicomtag.BitsStored, uint16(16)),
		element.MustNewElement(dicomtag.PixelRepresentation, rep),
		element.MustNewElement(dicomtag.RescaleIntercept, "-1024"),
		element.MustNewElement(dicomtag.RescaleSlope, "1"),
		element.MustNewElement(dicomtag.PixelData, pixelData),
	}}
	require.NoError(t, write.DataSetToFile(path, ds))
}

// storedValues gives the slice at height z negative stored values that
// encode z and the pixel index.
func storedValues(z float64) []int {
	out := make([]int, 6)
	for j := range out {
		out[j] = int(z)*10 + j - 200
	}
	return out
}

func TestReadSlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slice.dcm")
	writeSlice(t, path, "1.2.3", 12.5, 2, 3, storedValues(12.5), true)

	s, err := ReadSlice(path)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", s.SeriesUID)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, 3, s.Cols)
	assert.Equal(t, [3]float64{-10, -20, 12.5}, s.Position)
	assert.Equal(t, [2]float64{0.8, 0.6}, s.PixelSpacing)
	assert.True(t, s.Signed)
	assert.Equal(t, -1024.0, s.Intercept)
	assert.Equal(t, storedValues(12.5), s.Pixels)
}

func TestConvertSeriesFromFiles(t *testing.T) {
	dir := t.TempDir()
	heights := []float64{15, 10, 12.5}
	for i, z := range heights {
		writeSlice(t, filepath.Join(dir, fmt.Sprintf("IM%04d", i)), "1.2.3", z, 2, 3, storedValues(z), true)
	}
	writeSlice(t, filepath.Join(dir, "scout"), "9.9", 0, 2, 3, storedValues(0), true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DICOMDIR.txt"), []byte("index"), 0644))

	out := filepath.Join(t.TempDir(), "ct.nii.gz")
	img, err := ConvertSeries(context.Background(), dir, out, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 3}, img.Volume.Dims)

	decoded, vol, err := volume.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 3}, vol.Shape())
	assert.InDelta(t, 0.6, decoded.Geometry.Spacing[0], 1e-5)
	assert.InDelta(t, 0.8, decoded.Geometry.Spacing[1], 1e-5)
	assert.InDelta(t, 2.5, decoded.Geometry.Spacing[2], 1e-5)
	assert.InDelta(t, 10.0, decoded.Geometry.Origin[2], 1e-5)

	for k, z := range []float64{10, 12.5, 15} {
		stored := storedValues(z)
		for j := 0; j < 6; j++ {
			want := float64(stored[j]) - 1024
			assert.Equal(t, want, vol.At(j%3, j/3, k), "slice %d pixel %d", k, j)
		}
	}
}
