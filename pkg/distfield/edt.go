// Package distfield computes the distance fields used as regression targets:
// Euclidean distance transforms of a segmentation mask and a geodesic
// arrival-time field grown from an anatomical landmark.
package distfield

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"pancreasprep/internal/models"
)

// Unit is the sampling used when distances are measured in voxels.
var Unit = [3]float64{1, 1, 1}

// Fields holds the three Euclidean fields derived from one mask.
type Fields struct {
	// Positive is the distance of every foreground voxel to the nearest
	// background voxel, 0 on the background.
	Positive *models.Volume
	// Negative is minus the distance of every background voxel to the
	// nearest foreground voxel, 0 on the foreground.
	Negative *models.Volume
	// Signed is Positive plus Negative: positive inside, negative outside.
	Signed *models.Volume
}

// EuclideanFields computes the positive, negative and signed distance fields
// of mask in voxel units. A voxel is foreground when its value is non-zero.
func EuclideanFields(mask *models.Volume) Fields {
	inside := Transform(mask, true, Unit, 0)
	outside := Transform(mask, false, Unit, 0)

	neg := models.NewVolume(mask.Name, mask.Dims[0], mask.Dims[1], mask.Dims[2])
	signed := models.NewVolume(mask.Name, mask.Dims[0], mask.Dims[1], mask.Dims[2])
	for i := range outside.Data {
		neg.Data[i] = -outside.Data[i]
		signed.Data[i] = inside.Data[i] - outside.Data[i]
	}
	return Fields{Positive: inside, Negative: neg, Signed: signed}
}

// Transform returns the exact Euclidean distance transform of mask. With
// foreground set, every non-zero voxel gets its distance to the nearest zero
// voxel; otherwise every zero voxel gets its distance to the nearest non-zero
// voxel. The other voxels are 0. sampling scales each axis. Voxels with no
// such neighbour anywhere in the volume are +Inf.
//
// The transform is separable: one pass of the lower envelope of parabolas
// per axis. Lines of a pass are split across workers goroutines (0 means
// GOMAXPROCS).
func Transform(mask *models.Volume, foreground bool, sampling [3]float64, workers int) *models.Volume {
	out := models.NewVolume(mask.Name, mask.Dims[0], mask.Dims[1], mask.Dims[2])
	for i, v := range mask.Data {
		if (v != 0) == foreground {
			out.Data[i] = math.Inf(1)
		}
	}

	for axis := 0; axis < 3; axis++ {
		w := sampling[axis] * sampling[axis]
		sweep(out, axis, w, workers)
	}
	for i, v := range out.Data {
		out.Data[i] = math.Sqrt(v)
	}
	return out
}

// sweep replaces every line of vol along axis by its 1D squared distance
// transform with weight w.
func sweep(vol *models.Volume, axis int, w float64, workers int) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	starts, stride := lines(vol.Dims, axis)
	n := vol.Dims[axis]
	if n == 0 || len(starts) == 0 {
		return
	}

	chunk := (len(starts) + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < len(starts); lo += chunk {
		hi := min(lo+chunk, len(starts))
		g.Go(func() error {
			buf := newEnvelope(n)
			for _, s := range starts[lo:hi] {
				for i := 0; i < n; i++ {
					buf.f[i] = vol.Data[s+i*stride]
				}
				buf.transform(w)
				for i := 0; i < n; i++ {
					vol.Data[s+i*stride] = buf.d[i]
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// lines returns the offset of the first voxel of every line along axis in
// the x-major layout, and the offset between neighbours on a line.
func lines(dims [3]int, axis int) (starts []int, stride int) {
	nx, ny, nz := dims[0], dims[1], dims[2]
	switch axis {
	case 0:
		stride = ny * nz
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				starts = append(starts, y*nz+z)
			}
		}
	case 1:
		stride = nz
		for x := 0; x < nx; x++ {
			for z := 0; z < nz; z++ {
				starts = append(starts, x*ny*nz+z)
			}
		}
	default:
		stride = 1
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				starts = append(starts, (x*ny+y)*nz)
			}
		}
	}
	return starts, stride
}

// envelope is the scratch space of one 1D transform.
type envelope struct {
	f, d []float64
	v    []int
	z    []float64
}

func newEnvelope(n int) *envelope {
	return &envelope{
		f: make([]float64, n),
		d: make([]float64, n),
		v: make([]int, n),
		z: make([]float64, n+1),
	}
}

// transform computes d[q] = min_p f[p] + w(q-p)^2 (Felzenszwalb and
// Huttenlocher). Infinite samples never enter the envelope.
func (e *envelope) transform(w float64) {
	f, d, v, z := e.f, e.d, e.v, e.z
	n := len(f)

	k := -1
	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		if k < 0 {
			k = 0
			v[0] = q
			z[0] = math.Inf(-1)
			z[1] = math.Inf(1)
			continue
		}
		s := e.intersect(q, v[k], w)
		for s <= z[k] {
			k--
			s = e.intersect(q, v[k], w)
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	if k < 0 {
		for q := range d {
			d[q] = math.Inf(1)
		}
		return
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = w*dq*dq + f[v[k]]
	}
}

// intersect returns the abscissa where the parabolas rooted at q and p meet.
func (e *envelope) intersect(q, p int, w float64) float64 {
	fq := e.f[q] + w*float64(q*q)
	fp := e.f[p] + w*float64(p*p)
	return (fq - fp) / (2 * w * float64(q-p))
}
