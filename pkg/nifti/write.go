package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"pancreasprep/internal/models"
)

// voxOffset is the header plus the empty 4-byte extension block.
const voxOffset = HeaderSize + 4

// NewHeader builds a float32 header for a 3D volume with the given geometry.
func NewHeader(dims [3]int, g models.Geometry) Header {
	h := Header{
		SizeofHdr: HeaderSize,
		Dim:       [8]int16{3, int16(dims[0]), int16(dims[1]), int16(dims[2]), 1, 1, 1, 1},
		Datatype:  DTFloat32,
		Bitpix:    32,
		VoxOffset: voxOffset,
		SclSlope:  1,
		XyztUnits: 2, // mm
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	for i := 4; i < 8; i++ {
		h.Pixdim[i] = 1
	}
	h.setGeometry(g)
	return h
}

// WriteFloat32 writes a single-file NIfTI-1 volume. data must be in storage
// order, x fastest then y then z. The file is gzip-compressed when path ends
// in .gz. Parent directories are created as needed.
func WriteFloat32(path string, dims [3]int, g models.Geometry, data []float32) error {
	for i, n := range dims {
		if n <= 0 || n > math.MaxInt16 {
			return fmt.Errorf("dimension %d out of range: %d", i, n)
		}
	}
	if len(data) != dims[0]*dims[1]*dims[2] {
		return fmt.Errorf("%d voxels for dims %v", len(data), dims)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	bw := bufio.NewWriter(w)

	err = encode(bw, NewHeader(dims, g), data)
	if err == nil {
		err = bw.Flush()
	}
	if zw != nil {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func encode(w io.Writer, h Header, data []float32) error {
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	// empty extension block
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 4*1024)
	for len(data) > 0 {
		n := min(len(data), len(buf)/4)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(data[i]))
		}
		if _, err := w.Write(buf[:n*4]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
