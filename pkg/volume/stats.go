package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"pancreasprep/internal/models"
)

// Summary holds intensity statistics of a volume.
type Summary struct {
	Min, Max     float64
	Mean, StdDev float64
	NonZero      int
}

// Summarize computes the intensity statistics of vol.
func Summarize(vol *models.Volume) Summary {
	if len(vol.Data) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(vol.Data, nil)
	s := Summary{
		Min:    floats.Min(vol.Data),
		Max:    floats.Max(vol.Data),
		Mean:   mean,
		StdDev: std,
	}
	for _, v := range vol.Data {
		if v != 0 {
			s.NonZero++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("min=%.3f max=%.3f mean=%.3f std=%.3f nonzero=%d", s.Min, s.Max, s.Mean, s.StdDev, s.NonZero)
}
