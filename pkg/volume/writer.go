package volume

import (
	"context"

	"pancreasprep/internal/logging"
	"pancreasprep/internal/models"
	"pancreasprep/pkg/nifti"
)

// Write stores img at path as float32 NIfTI, keeping its origin, spacing and
// direction. The canonical record is converted back to storage order.
func Write(path string, img *models.Image) error {
	return WriteLogged(path, img, nil)
}

// WriteLogged is Write with the outcome reported to logger.
func WriteLogged(path string, img *models.Image, logger *logging.Logger) error {
	err := write(path, img)
	logging.OrNoop(logger).LogWrite(context.Background(), path, img.Volume.Dims, err)
	return err
}

func write(path string, img *models.Image) error {
	vol := img.Volume
	if err := vol.Validate(); err != nil {
		return err
	}

	nx, ny, nz := vol.Dims[0], vol.Dims[1], vol.Dims[2]
	data := make([]float32, 0, vol.Len())
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data = append(data, float32(vol.At(x, y, z)))
			}
		}
	}
	return nifti.WriteFloat32(path, vol.Dims, img.Geometry, data)
}

// Derive returns an image holding vol placed on the geometry of src.
func Derive(src *models.Image, vol *models.Volume) *models.Image {
	return &models.Image{Geometry: src.Geometry, Volume: vol}
}
