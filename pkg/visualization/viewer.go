// Package visualization renders 2D slices of volumes for quick visual checks
// of converted scans, resampled volumes and distance fields.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"pancreasprep/internal/models"
	"pancreasprep/pkg/volume"
)

// Viewer extracts grey-level slices from a volume. Values are mapped
// linearly from the window [low, high] onto the full 16-bit range.
type Viewer struct {
	vol *models.Volume

	low  float64
	high float64
}

// NewViewer creates a viewer whose window spans the value range of vol.
func NewViewer(vol *models.Volume) *Viewer {
	s := volume.Summarize(vol)
	return &Viewer{vol: vol, low: s.Min, high: s.Max}
}

// SetWindow sets the values shown as black and white. CT scans read better
// with a soft-tissue window such as [-160, 240].
func (v *Viewer) SetWindow(low, high float64) error {
	if !(high > low) {
		return fmt.Errorf("window [%g, %g] is empty", low, high)
	}
	v.low, v.high = low, high
	return nil
}

// Window returns the current window.
func (v *Viewer) Window() (low, high float64) {
	return v.low, v.high
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.high <= v.low {
		if value > v.low {
			return color.Gray16{Y: 65535}
		}
		return color.Gray16{}
	}
	t := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, t)) * 65535))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	nx, ny, nz := v.vol.Dims[0], v.vol.Dims[1], v.vol.Dims[2]

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane, z across
		if position >= nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, nx)
		}
		img = image.NewGray16(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane, z down
		if position >= ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, ny)
		}
		img = image.NewGray16(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, nz)
		}
		img = image.NewGray16(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies the box of the given size starting at start.
func (v *Viewer) ExtractRegion(start, size [3]int) (*models.Volume, error) {
	for i := 0; i < 3; i++ {
		if start[i] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[i] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[i]+size[i] > v.vol.Dims[i] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	region := models.NewVolume(v.vol.Name, size[0], size[1], size[2])
	for x := 0; x < size[0]; x++ {
		for y := 0; y < size[1]; y++ {
			for z := 0; z < size[2]; z++ {
				region.Set(x, y, z, v.vol.At(start[0]+x, start[1]+y, start[2]+z))
			}
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as PNG when filename ends in .png and
// as JPEG otherwise.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(filename), ".png") {
		return png.Encode(file, img)
	}
	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// and returns the written paths.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Dims[0]
	case "y", "Y":
		maxPos = v.vol.Dims[1]
	case "z", "Z":
		maxPos = v.vol.Dims[2]
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	var paths []string
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return nil, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}

// SaveMidSlices writes the central slice along each axis into outputDir.
func (v *Viewer) SaveMidSlices(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for i, axis := range []string{"x", "y", "z"} {
		pos := v.vol.Dims[i] / 2
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return nil, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("mid_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
