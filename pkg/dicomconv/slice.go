// Package dicomconv converts a directory holding one CT series of DICOM
// slices into a single NIfTI volume.
package dicomconv

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"

	"pancreasprep/pkg/dataerr"
)

// Slice is one parsed DICOM image with the attributes needed to stack it.
type Slice struct {
	Path        string
	SeriesUID   string
	Position    [3]float64 // ImagePositionPatient
	Orientation [6]float64 // ImageOrientationPatient: row then column cosines
	// PixelSpacing is the row spacing (between rows) then the column spacing.
	PixelSpacing [2]float64
	Thickness    float64
	Rows, Cols   int
	Slope        float64
	Intercept    float64

	// BitsAllocated and BitsStored describe one sample; Signed is set for
	// PixelRepresentation 1 (two's complement).
	BitsAllocated int
	BitsStored    int
	Signed        bool

	// Pixels holds Rows*Cols stored values, row by row, sign-extended when
	// the samples are signed.
	Pixels []int
}

// TagMap indexes the values of a dataset by tag.
type TagMap map[dicomtag.Tag][]interface{}

// ReadSlice parses the DICOM file at path.
func ReadSlice(path string) (*Slice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dataerr.NewDecode(path, "reading file", err)
	}
	ds, err := safelyParse(raw, dicom.ParseOptions{DropPixelData: false})
	if ds == nil || err != nil {
		return nil, dataerr.NewDecode(path, "parsing DICOM", err)
	}

	tags := TagMap{}
	for _, elem := range ds.Elements {
		tags[elem.Tag] = elem.Value
	}

	s, err := SliceFromTags(path, tags)
	if err != nil {
		return nil, err
	}
	if s.Pixels, err = pixels(tags, s); err != nil {
		return nil, err
	}
	return s, nil
}

// safelyParse turns panics of the parser on malformed input into errors.
func safelyParse(raw []byte, opts dicom.ParseOptions) (ds *element.DataSet, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			ds = nil
			err = fmt.Errorf("%v", panicErr)
		}
	}()
	p, err := dicom.NewParserFromBytes(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("not a DICOM file: %w", err)
	}
	return p.Parse(opts)
}

// SliceFromTags reads the geometry and rescale attributes of one slice.
// Pixels are left empty.
func SliceFromTags(path string, tags TagMap) (*Slice, error) {
	s := &Slice{Path: path, Slope: 1, Thickness: 0}

	if v := tags[dicomtag.SeriesInstanceUID]; len(v) > 0 {
		s.SeriesUID = strings.TrimSpace(fmt.Sprint(v[0]))
	}

	var err error
	if s.Rows, err = tagInt(tags, dicomtag.Rows); err != nil {
		return nil, dataerr.NewDecode(path, "Rows", err)
	}
	if s.Cols, err = tagInt(tags, dicomtag.Columns); err != nil {
		return nil, dataerr.NewDecode(path, "Columns", err)
	}

	ipp, err := tagFloats(tags, dicomtag.ImagePositionPatient, 3)
	if err != nil {
		return nil, dataerr.NewDecode(path, "ImagePositionPatient", err)
	}
	copy(s.Position[:], ipp)

	iop, err := tagFloats(tags, dicomtag.ImageOrientationPatient, 6)
	if err != nil {
		return nil, dataerr.NewDecode(path, "ImageOrientationPatient", err)
	}
	copy(s.Orientation[:], iop)

	ps, err := tagFloats(tags, dicomtag.PixelSpacing, 2)
	if err != nil {
		return nil, dataerr.NewDecode(path, "PixelSpacing", err)
	}
	copy(s.PixelSpacing[:], ps)

	// sample layout; the parser only decodes 8 and 16 bit native samples
	s.BitsAllocated = 16
	if v, err := tagInt(tags, dicomtag.BitsAllocated); err == nil {
		s.BitsAllocated = v
	}
	if s.BitsAllocated != 8 && s.BitsAllocated != 16 {
		return nil, dataerr.NewDecode(path, fmt.Sprintf("%d bits allocated, want 8 or 16", s.BitsAllocated), nil)
	}
	s.BitsStored = s.BitsAllocated
	if v, err := tagInt(tags, dicomtag.BitsStored); err == nil {
		if v <= 0 || v > s.BitsAllocated {
			return nil, dataerr.NewDecode(path, fmt.Sprintf("%d bits stored in %d allocated", v, s.BitsAllocated), nil)
		}
		s.BitsStored = v
	}
	if v, err := tagInt(tags, dicomtag.PixelRepresentation); err == nil {
		s.Signed = v == 1
	}

	// optional attributes
	if v, err := tagFloats(tags, dicomtag.SliceThickness, 1); err == nil {
		s.Thickness = v[0]
	}
	if v, err := tagFloats(tags, dicomtag.RescaleSlope, 1); err == nil {
		s.Slope = v[0]
	}
	if v, err := tagFloats(tags, dicomtag.RescaleIntercept, 1); err == nil {
		s.Intercept = v[0]
	}
	return s, nil
}

// pixels extracts the single native frame of s. The parser returns every
// sample as unsigned, so signed samples are sign-extended from BitsStored.
func pixels(tags TagMap, s *Slice) ([]int, error) {
	path, rows, cols := s.Path, s.Rows, s.Cols
	v := tags[dicomtag.PixelData]
	if len(v) == 0 {
		return nil, dataerr.NewDecode(path, "no pixel data", nil)
	}
	info, ok := v[0].(element.PixelDataInfo)
	if !ok {
		return nil, dataerr.NewDecode(path, fmt.Sprintf("unexpected pixel data %T", v[0]), nil)
	}
	if len(info.Frames) != 1 {
		return nil, dataerr.NewDecode(path, fmt.Sprintf("%d frames, want 1", len(info.Frames)), nil)
	}

	frame := info.Frames[0]
	if frame.IsEncapsulated() {
		return nil, dataerr.NewDecode(path, "compressed pixel data is not supported", nil)
	}
	if frame.NativeData.Rows != rows || frame.NativeData.Cols != cols {
		return nil, dataerr.NewDecode(path, fmt.Sprintf("frame is %dx%d, header says %dx%d",
			frame.NativeData.Rows, frame.NativeData.Cols, rows, cols), nil)
	}
	if len(frame.NativeData.Data) != rows*cols {
		return nil, dataerr.NewDecode(path, fmt.Sprintf("%d pixels, want %d", len(frame.NativeData.Data), rows*cols), nil)
	}

	out := make([]int, len(frame.NativeData.Data))
	for j, px := range frame.NativeData.Data {
		if len(px) == 0 {
			return nil, dataerr.NewDecode(path, fmt.Sprintf("pixel %d has no samples", j), nil)
		}
		// first sample; CT is single channel
		out[j] = px[0]
		if s.Signed {
			out[j] = signExtend(px[0], s.BitsStored)
		}
	}
	return out, nil
}

// signExtend reads the low bits of v as a two's complement number.
func signExtend(v, bits int) int {
	v &= 1<<bits - 1
	if v&(1<<(bits-1)) != 0 {
		v -= 1 << bits
	}
	return v
}

func tagInt(tags TagMap, t dicomtag.Tag) (int, error) {
	v := tags[t]
	if len(v) == 0 {
		return 0, errors.New("missing")
	}
	switch x := v[0].(type) {
	case uint16:
		return int(x), nil
	case uint32:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int:
		return x, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("unexpected value %T", v[0])
	}
}

// tagFloats parses a decimal string attribute with exactly n values.
func tagFloats(tags TagMap, t dicomtag.Tag, n int) ([]float64, error) {
	v := tags[t]
	if len(v) != n {
		return nil, fmt.Errorf("%d values, want %d", len(v), n)
	}
	out := make([]float64, n)
	for i, x := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(x)), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
