package raster

import (
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Affine is a 2D affine map from source to destination coordinates:
//
//	x' = a*x + b*y + c
//	y' = d*x + e*y + f
type Affine struct {
	a, b, c float64
	d, e, f float64
}

// Identity returns the map that leaves every point in place.
func Identity() Affine {
	return Affine{a: 1, e: 1}
}

// Multiply returns m·o: o is applied to a point first, then m.
func (m Affine) Multiply(o Affine) Affine {
	return Affine{
		a: m.a*o.a + m.b*o.d,
		b: m.a*o.b + m.b*o.e,
		c: m.a*o.c + m.b*o.f + m.c,
		d: m.d*o.a + m.e*o.d,
		e: m.d*o.b + m.e*o.e,
		f: m.d*o.c + m.e*o.f + m.f,
	}
}

// Translate concatenates a translation; it applies before m.
func (m Affine) Translate(tx, ty float64) Affine {
	return m.Multiply(Affine{a: 1, c: tx, e: 1, f: ty})
}

// Scale concatenates a scale; negative factors flip.
func (m Affine) Scale(sx, sy float64) Affine {
	return m.Multiply(Affine{a: sx, e: sy})
}

// Rotate concatenates a rotation by theta radians. With y pointing down a
// positive angle turns clockwise. Quadrant angles produce exact 0/±1 entries.
func (m Affine) Rotate(theta float64) Affine {
	sin, cos := math.Sincos(theta)
	switch {
	case sin == 1 || sin == -1:
		cos = 0
	case cos == 1 || cos == -1:
		sin = 0
	}
	return m.Multiply(Affine{a: cos, b: -sin, d: sin, e: cos})
}

// Apply maps the point (x, y).
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m.a*x + m.b*y + m.c, m.d*x + m.e*y + m.f
}

// Aff3 converts m for golang.org/x/image/draw.
func (m Affine) Aff3() f64.Aff3 {
	return f64.Aff3{m.a, m.b, m.c, m.d, m.e, m.f}
}

// Radians converts degrees.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// permutation reports whether m maps the pixel grid onto itself: a quadrant
// rotation or flip with integer translation.
func (m Affine) permutation() bool {
	unit := func(v float64) bool { return v == 0 || v == 1 || v == -1 }
	integral := func(v float64) bool { return v == math.Trunc(v) }
	if !unit(m.a) || !unit(m.b) || !unit(m.d) || !unit(m.e) {
		return false
	}
	det := m.a*m.e - m.b*m.d
	return (det == 1 || det == -1) && integral(m.c) && integral(m.f)
}

func (m Affine) invert() (Affine, bool) {
	det := m.a*m.e - m.b*m.d
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, false
	}
	inv := 1 / det
	return Affine{
		a: m.e * inv,
		b: -m.b * inv,
		c: (m.b*m.f - m.c*m.e) * inv,
		d: -m.d * inv,
		e: m.a * inv,
		f: (m.c*m.d - m.a*m.f) * inv,
	}, true
}

// AffineDraw draws the buffer into a new dstW×dstH buffer under m.
// Destination pixels no source pixel maps to stay transparent, or opaque black
// for opaque buffers. Grid permutations (quadrant rotations, flips) copy
// pixels exactly; any other map is interpolated with filter.
func (b *Buffer) AffineDraw(m Affine, dstW, dstH int, filter Filter) (*Buffer, error) {
	if err := checkTarget(dstW, dstH); err != nil {
		return nil, err
	}
	inv, ok := m.invert()
	if !ok {
		return nil, errSingular
	}

	dst, err := New(dstW, dstH, b.alpha)
	if err != nil {
		return nil, err
	}

	if m.permutation() {
		b.remap(dst, inv)
		return dst, nil
	}

	filter.interpolator().Transform(dst.img, m.Aff3(), b.img, b.img.Bounds(), draw.Over, nil)
	dst.settle()
	return dst, nil
}

// remap copies pixels through the inverse map, sampling each destination
// pixel center.
func (b *Buffer) remap(dst *Buffer, inv Affine) {
	src, out := b.Pix(), dst.Pix()
	srcStride, dstStride := b.width*4, dst.width*4

	for dy := 0; dy < dst.height; dy++ {
		for dx := 0; dx < dst.width; dx++ {
			fx, fy := inv.Apply(float64(dx)+0.5, float64(dy)+0.5)
			sx, sy := int(math.Floor(fx)), int(math.Floor(fy))
			if sx < 0 || sy < 0 || sx >= b.width || sy >= b.height {
				continue
			}
			si := sy*srcStride + sx*4
			di := dy*dstStride + dx*4
			copy(out[di:di+4], src[si:si+4])
		}
	}
}
