package nifti

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// BytesPerVoxel returns the storage size of one voxel of the header's
// datatype. Complex, RGB and 64-bit integer types are not supported.
func (h Header) BytesPerVoxel() (int, error) {
	var n int
	switch h.Datatype {
	case DTUint8, DTInt8:
		n = 1
	case DTInt16, DTUint16:
		n = 2
	case DTInt32, DTUint32, DTFloat32:
		n = 4
	case DTFloat64:
		n = 8
	default:
		return 0, fmt.Errorf("unsupported datatype %d", h.Datatype)
	}
	if int(h.Bitpix) != 8*n {
		return 0, fmt.Errorf("datatype %d stored with bitpix %d", h.Datatype, h.Bitpix)
	}
	return n, nil
}

// Scaling returns scl_slope and scl_inter when they change the stored
// values. A zero or non-finite slope means no scaling.
func (h Header) Scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter, slope != 1 || inter != 0
}

// ReadVoxels reads the first 3D volume of path in storage order (x fastest)
// and converts every voxel of the header's datatype to float64 using the
// file's byte order. Scaling is not applied.
func ReadVoxels(path string) (Header, []float64, error) {
	h, order, err := ReadHeader(path)
	if err != nil {
		return Header{}, nil, err
	}
	size, err := h.BytesPerVoxel()
	if err != nil {
		return Header{}, nil, err
	}
	dims := h.Dims()
	n := dims[0] * dims[1] * dims[2]

	rc, err := open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer rc.Close()

	if h.VoxOffset < HeaderSize {
		return Header{}, nil, fmt.Errorf("vox_offset %g inside the header", h.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, rc, int64(h.VoxOffset)); err != nil {
		return Header{}, nil, fmt.Errorf("seeking to voxel data: %w", err)
	}
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(rc, raw); err != nil {
		return Header{}, nil, fmt.Errorf("reading %d voxels: %w", n, err)
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = decodeVoxel(h.Datatype, order, raw[i*size:(i+1)*size])
	}
	return h, values, nil
}

func decodeVoxel(datatype int16, order binary.ByteOrder, b []byte) float64 {
	switch datatype {
	case DTUint8:
		return float64(b[0])
	case DTInt8:
		return float64(int8(b[0]))
	case DTInt16:
		return float64(int16(order.Uint16(b)))
	case DTUint16:
		return float64(order.Uint16(b))
	case DTInt32:
		return float64(int32(order.Uint32(b)))
	case DTUint32:
		return float64(order.Uint32(b))
	case DTFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	default: // DTFloat64
		return math.Float64frombits(order.Uint64(b))
	}
}
