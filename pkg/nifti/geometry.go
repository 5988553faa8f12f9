package nifti

import (
	"math"

	"pancreasprep/internal/models"
)

// NIfTI stores physical space as RAS, the rest of the module works in LPS
// like ITK does. The two differ by a sign flip of the first two axes.
var rasToLPS = [3]float64{-1, -1, 1}

// Geometry returns the LPS geometry described by the header. The qform is
// used when present, then the sform, and finally the bare pixdim spacing.
func (h Header) Geometry() models.Geometry {
	spacing := [3]float64{1, 1, 1}
	for i := 0; i < 3; i++ {
		if d := float64(h.Pixdim[i+1]); d > 0 {
			spacing[i] = d
		}
	}

	switch {
	case h.QformCode > XformUnknown:
		return h.qformGeometry(spacing)
	case h.SformCode > XformUnknown:
		return h.sformGeometry()
	}

	g := models.IdentityGeometry()
	g.Spacing = spacing
	// ITK flips the default axes into LPS as well
	for r := 0; r < 2; r++ {
		g.Direction[r*3+r] = -1
	}
	return g
}

func (h Header) qformGeometry(spacing [3]float64) models.Geometry {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	zsign := 1.0
	if h.Pixdim[0] < 0 {
		zsign = -1
	}

	r := [9]float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c) * zsign,
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b) * zsign,
		2 * (b*d - a*c), 2 * (c*d + a*b), (a*a + d*d - c*c - b*b) * zsign,
	}
	origin := [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	return toLPS(origin, spacing, r)
}

func (h Header) sformGeometry() models.Geometry {
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	var spacing [3]float64
	var r [9]float64
	for col := 0; col < 3; col++ {
		var norm float64
		for row := 0; row < 3; row++ {
			v := float64(rows[row][col])
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			norm = 1
		}
		spacing[col] = norm
		for row := 0; row < 3; row++ {
			r[row*3+col] = float64(rows[row][col]) / norm
		}
	}
	origin := [3]float64{float64(h.SrowX[3]), float64(h.SrowY[3]), float64(h.SrowZ[3])}
	return toLPS(origin, spacing, r)
}

func toLPS(origin, spacing [3]float64, rasDirection [9]float64) models.Geometry {
	g := models.Geometry{Spacing: spacing}
	for row := 0; row < 3; row++ {
		g.Origin[row] = origin[row] * rasToLPS[row]
		for col := 0; col < 3; col++ {
			g.Direction[row*3+col] = rasDirection[row*3+col] * rasToLPS[row]
		}
	}
	return g
}

// setGeometry fills pixdim, qform and sform from an LPS geometry.
func (h *Header) setGeometry(g models.Geometry) {
	var r [9]float64
	var origin [3]float64
	for row := 0; row < 3; row++ {
		origin[row] = g.Origin[row] * rasToLPS[row]
		for col := 0; col < 3; col++ {
			r[row*3+col] = g.Direction[row*3+col] * rasToLPS[row]
		}
	}

	for i := 0; i < 3; i++ {
		h.Pixdim[i+1] = float32(g.Spacing[i])
	}

	h.SformCode = XformScanner
	srows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			srows[row][col] = float32(r[row*3+col] * g.Spacing[col])
		}
		srows[row][3] = float32(origin[row])
	}

	h.QformCode = XformScanner
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = float32(origin[0]), float32(origin[1]), float32(origin[2])
	b, c, d, qfac := quaternion(r)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.Pixdim[0] = float32(qfac)
}

// quaternion converts a rotation (or rotation-reflection) matrix with unit
// columns into the qform parameters b, c, d and qfac.
func quaternion(r [9]float64) (b, c, d, qfac float64) {
	r11, r12, r13 := r[0], r[1], r[2]
	r21, r22, r23 := r[3], r[4], r[5]
	r31, r32, r33 := r[6], r[7], r[8]

	det := r11*r22*r33 - r11*r32*r23 - r21*r12*r33 + r21*r32*r13 + r31*r12*r23 - r31*r22*r13
	qfac = 1
	if det < 0 {
		qfac = -1
		r13, r23, r33 = -r13, -r23, -r33
	}

	var a float64
	if t := r11 + r22 + r33 + 1; t > 0.5 {
		a = 0.5 * math.Sqrt(t)
		b = 0.25 * (r32 - r23) / a
		c = 0.25 * (r13 - r31) / a
		d = 0.25 * (r21 - r12) / a
	} else {
		xd := 1 + r11 - (r22 + r33)
		yd := 1 + r22 - (r11 + r33)
		zd := 1 + r33 - (r11 + r22)
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r12 + r21) / b
			d = 0.25 * (r13 + r31) / b
			a = 0.25 * (r32 - r23) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r12 + r21) / c
			d = 0.25 * (r23 + r32) / c
			a = 0.25 * (r13 - r31) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r13 + r31) / d
			c = 0.25 * (r23 + r32) / d
			a = 0.25 * (r21 - r12) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}
	return b, c, d, qfac
}
