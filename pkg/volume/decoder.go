// Package volume decodes NIfTI volumes into canonical x-major records and
// writes derived volumes back with the geometry of their source.
package volume

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/henghuang/nifti"

	"pancreasprep/internal/logging"
	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	niftihdr "pancreasprep/pkg/nifti"
)

// Decoder reads volume files through the imaging backend.
type Decoder struct {
	logger *logging.Logger
}

// NewDecoder creates a decoder. A nil logger discards output.
func NewDecoder(logger *logging.Logger) *Decoder {
	return &Decoder{logger: logging.OrNoop(logger)}
}

// Decode reads path with a default decoder.
func Decode(path string) (*models.Image, *models.Volume, error) {
	return NewDecoder(nil).Decode(path)
}

// Decode reads the volume at path. It returns the image handle, which
// carries the spatial metadata, and the voxel record reordered from storage
// order to canonical x-major order.
func (d *Decoder) Decode(path string) (*models.Image, *models.Volume, error) {
	img, vol, err := d.decode(path)
	var dims [3]int
	if vol != nil {
		dims = vol.Dims
	}
	d.logger.LogDecode(context.Background(), path, dims, err)
	return img, vol, err
}

func (d *Decoder) decode(path string) (*models.Image, *models.Volume, error) {
	if !IsNIfTI(path) {
		return nil, nil, dataerr.NewDecode(path, "unsupported file extension", nil)
	}

	hdr, order, err := niftihdr.ReadHeader(path)
	if err != nil {
		return nil, nil, dataerr.NewDecode(path, "reading header", err)
	}
	if _, err := hdr.BytesPerVoxel(); err != nil {
		return nil, nil, dataerr.NewDecode(path, "voxel type", err)
	}

	vol := models.NewVolume(path, hdr.Dims()[0], hdr.Dims()[1], hdr.Dims()[2])
	if err := vol.Validate(); err != nil {
		return nil, nil, dataerr.NewDecode(path, "empty volume", err)
	}

	if backendReads(hdr, order) {
		err = d.fromBackend(path, hdr, vol)
	} else {
		err = fromStorage(path, vol)
	}
	if err != nil {
		return nil, nil, err
	}

	if slope, inter, ok := hdr.Scaling(); ok {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}

	img := &models.Image{Geometry: hdr.Geometry(), Volume: vol}
	return img, vol, nil
}

// backendReads reports whether the nifti library decodes this layout
// faithfully. It reads every file as little-endian and picks the sample
// type from bitpix alone, which is right for unsigned bytes and shorts and
// for float32 only.
func backendReads(hdr niftihdr.Header, order binary.ByteOrder) bool {
	if order != binary.LittleEndian {
		return false
	}
	switch hdr.Datatype {
	case niftihdr.DTUint8, niftihdr.DTUint16, niftihdr.DTFloat32:
		return true
	}
	return false
}

func (d *Decoder) fromBackend(path string, hdr niftihdr.Header, vol *models.Volume) error {
	data, err := safelyLoadImage(path)
	if err != nil {
		return dataerr.NewDecode(path, "reading voxels", err)
	}

	dims := data.GetDims()
	nx, ny, nz := int(dims[0]), int(dims[1]), int(dims[2])
	if [3]int{nx, ny, nz} != hdr.Dims() {
		return dataerr.NewDecode(path, fmt.Sprintf("backend dims %dx%dx%d disagree with header %v", nx, ny, nz, hdr.Dims()), nil)
	}

	// Storage order has x varying fastest; the record is x-major. This and
	// fromStorage are the only places the axis order is converted.
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vol.Set(x, y, z, float64(data.GetAt(x, y, z, 0)))
			}
		}
	}
	return nil
}

// fromStorage decodes signed, float64 and big-endian layouts through
// pkg/nifti.
func fromStorage(path string, vol *models.Volume) error {
	_, values, err := niftihdr.ReadVoxels(path)
	if err != nil {
		return dataerr.NewDecode(path, "reading voxels", err)
	}
	nx, ny, nz := vol.Dims[0], vol.Dims[1], vol.Dims[2]
	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vol.Set(x, y, z, values[i])
				i++
			}
		}
	}
	return nil
}

// safelyLoadImage consumes panics emitted by the nifti library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func safelyLoadImage(path string) (parsed *nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			parsed = nil
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	return &img, nil
}

// IsNIfTI reports whether path names a .nii or .nii.gz file.
func IsNIfTI(path string) bool {
	return strings.HasSuffix(path, ".nii") || strings.HasSuffix(path, ".nii.gz")
}
