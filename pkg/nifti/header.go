// Package nifti reads the spatial header of NIfTI-1 files and writes
// single-channel float32 NIfTI-1 volumes, plain (.nii) or gzip-compressed
// (.nii.gz).
//
// This package owns the header layout, the datatype-aware voxel reader used
// for layouts the imaging backend in pkg/volume cannot read, and the write
// path, so that derived volumes keep the origin, spacing and direction of
// their source.
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// HeaderSize is the fixed size of a NIfTI-1 header in bytes.
const HeaderSize = 348

// Datatype codes of the scalar types this package decodes.
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
)

// Transform codes.
const (
	XformUnknown = 0
	XformScanner = 1
)

// Header is the on-disk NIfTI-1 header.
type Header struct {
	SizeofHdr          int32      // Must be 348
	UnusedDataType     [10]byte   // Unused
	UnusedDbName       [18]byte   // Unused
	UnusedExtents      int32      // Unused
	UnusedSessionError int16      // Unused
	UnusedRegular      byte       // Unused
	DimInfo            byte       // MRI slice ordering
	Dim                [8]int16   // Data array dimensions
	IntentP1           float32    // 1st intent parameter
	IntentP2           float32    // 2nd intent parameter
	IntentP3           float32    // 3rd intent parameter
	IntentCode         int16      // NIFTI_INTENT_* code
	Datatype           int16      // Defines data type
	Bitpix             int16      // Number bits/voxel
	SliceStart         int16      // First slice index
	Pixdim             [8]float32 // Grid spacing, pixdim[0] is qfac
	VoxOffset          float32    // Offset into .nii file
	SclSlope           float32    // Data scaling: slope
	SclInter           float32    // Data scaling: offset
	SliceEnd           int16      // Last slice index
	SliceCode          byte       // Slice timing order
	XyztUnits          byte       // Units of pixdim[1..4]
	CalMax             float32    // Max display intensity
	CalMin             float32    // Min display intensity
	SliceDuration      float32    // Time for 1 slice
	Toffset            float32    // Time axis shift
	UnusedGlmax        int32      // Unused
	UnusedGlmin        int32      // Unused
	Descrip            [80]byte   // Any text you like
	AuxFile            [24]byte   // Auxiliary filename
	QformCode          int16      // NIFTI_XFORM_* code
	SformCode          int16      // NIFTI_XFORM_* code
	QuaternB           float32    // Quaternion b params
	QuaternC           float32    // Quaternion c params
	QuaternD           float32    // Quaternion d params
	QoffsetX           float32    // Quaternion x shift
	QoffsetY           float32    // Quaternion y shift
	QoffsetZ           float32    // Quaternion z shift
	SrowX              [4]float32 // 1st row affine transform
	SrowY              [4]float32 // 2nd row affine transform
	SrowZ              [4]float32 // 3rd row affine transform
	IntentName         [16]byte   // 'name' or meaning of data
	Magic              [4]byte    // MUST be "ni1\0" or "n+1\0"
}

// Dims returns the three spatial dimensions.
func (h Header) Dims() [3]int {
	return [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
}

// validate checks the fields every reader depends on.
func (h Header) validate() error {
	if h.SizeofHdr != HeaderSize {
		return fmt.Errorf("header size %d, want %d", h.SizeofHdr, HeaderSize)
	}
	magic := string(h.Magic[:3])
	if magic != "n+1" && magic != "ni1" {
		return fmt.Errorf("bad magic %q", magic)
	}
	if h.Dim[0] < 3 || h.Dim[0] > 7 {
		return fmt.Errorf("unsupported rank %d", h.Dim[0])
	}
	for i := 1; i <= 3; i++ {
		if h.Dim[i] <= 0 {
			return fmt.Errorf("dimension %d is %d", i, h.Dim[i])
		}
	}
	return nil
}

// open returns a reader over the (decompressed) file contents.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return zerr
}

// ReadHeader reads and validates the header of a .nii or .nii.gz file. The
// returned byte order is the one the file was written with.
func ReadHeader(path string) (Header, binary.ByteOrder, error) {
	rc, err := open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer rc.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return Header{}, nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(buf[:4]) != HeaderSize {
		order = binary.BigEndian
	}

	var h Header
	if err := binary.Read(bytes.NewReader(buf), order, &h); err != nil {
		return Header{}, nil, fmt.Errorf("decoding header: %w", err)
	}
	if err := h.validate(); err != nil {
		return Header{}, nil, err
	}
	return h, order, nil
}
