package distfield

import (
	"container/heap"
	"math"
	"sort"

	"pancreasprep/internal/models"
)

// FastMarching solves the Eikonal equation |grad T| = 1/F with F the voxel
// values of speed, starting from T = 0 at seed. Distances along each axis are
// scaled by spacing. The front stops once the smallest tentative arrival time
// exceeds stop; voxels it never accepted, and voxels with non-positive speed,
// are +Inf.
//
// The update is the first-order upwind scheme over the six face neighbours.
func FastMarching(speed *models.Volume, spacing [3]float64, seed [3]int, stop float64) *models.Volume {
	dims := speed.Dims
	out := models.NewVolume(speed.Name, dims[0], dims[1], dims[2])
	for i := range out.Data {
		out.Data[i] = math.Inf(1)
	}
	if !speed.Contains(seed[0], seed[1], seed[2]) {
		return out
	}

	accepted := make([]bool, len(out.Data))
	trial := &frontier{}
	s := speed.Index(seed[0], seed[1], seed[2])
	out.Data[s] = 0
	heap.Push(trial, node{index: s, time: 0})

	for trial.Len() > 0 {
		n := heap.Pop(trial).(node)
		if accepted[n.index] || n.time > out.Data[n.index] {
			continue
		}
		if n.time > stop {
			break
		}
		accepted[n.index] = true

		x, y, z := coords(dims, n.index)
		for _, o := range neighbours {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if !speed.Contains(nx, ny, nz) {
				continue
			}
			i := speed.Index(nx, ny, nz)
			if accepted[i] || speed.Data[i] <= 0 {
				continue
			}
			t := solve(out, accepted, spacing, speed.Data[i], nx, ny, nz)
			if t < out.Data[i] {
				out.Data[i] = t
				heap.Push(trial, node{index: i, time: t})
			}
		}
	}

	for i, ok := range accepted {
		if !ok {
			out.Data[i] = math.Inf(1)
		}
	}
	return out
}

var neighbours = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

func coords(dims [3]int, i int) (x, y, z int) {
	z = i % dims[2]
	i /= dims[2]
	y = i % dims[1]
	x = i / dims[1]
	return x, y, z
}

// solve returns the upwind arrival time at (x, y, z) from its accepted
// neighbours.
func solve(t *models.Volume, accepted []bool, spacing [3]float64, f float64, x, y, z int) float64 {
	type term struct{ a, h float64 }
	var terms []term
	p := [3]int{x, y, z}
	for axis := 0; axis < 3; axis++ {
		best := math.Inf(1)
		for _, step := range []int{-1, 1} {
			q := p
			q[axis] += step
			if !t.Contains(q[0], q[1], q[2]) {
				continue
			}
			i := t.Index(q[0], q[1], q[2])
			if accepted[i] && t.Data[i] < best {
				best = t.Data[i]
			}
		}
		if !math.IsInf(best, 1) {
			terms = append(terms, term{best, spacing[axis]})
		}
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].a < terms[j].a })

	rhs := 1 / (f * f)
	sol := math.Inf(1)
	var a, b, c float64
	for k, tm := range terms {
		if k > 0 && sol <= tm.a {
			break
		}
		w := 1 / (tm.h * tm.h)
		a += w
		b -= 2 * tm.a * w
		c += tm.a * tm.a * w
		disc := b*b - 4*a*(c-rhs)
		if disc < 0 {
			break
		}
		sol = (-b + math.Sqrt(disc)) / (2 * a)
	}
	return sol
}

type node struct {
	index int
	time  float64
}

// frontier is a min-heap of trial voxels keyed on arrival time. Stale entries
// are skipped when popped.
type frontier []node

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return f[i].time < f[j].time }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(node)) }

func (f *frontier) Pop() any {
	old := *f
	n := old[len(old)-1]
	*f = old[:len(old)-1]
	return n
}

// Threshold replaces every value outside [lower, upper], and every
// non-finite value, by outside.
func Threshold(v *models.Volume, lower, upper, outside float64) *models.Volume {
	out := v.Clone(v.Name)
	for i, x := range out.Data {
		if x < lower || x > upper || math.IsNaN(x) || math.IsInf(x, 0) {
			out.Data[i] = outside
		}
	}
	return out
}
