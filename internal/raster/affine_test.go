package raster

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineQuadrantRotationIsExact(t *testing.T) {
	m := Identity().Translate(5, 0).Rotate(Radians(90))
	x, y := m.Apply(1, 2)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 1.0, y)
	assert.True(t, m.permutation())

	m = Identity().Translate(4, 3).Rotate(Radians(180))
	x, y = m.Apply(1, 1)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 2.0, y)
	assert.True(t, m.permutation())
}

func TestAffineInvert(t *testing.T) {
	m := Identity().Translate(10, 4).Scale(2, -1)
	inv, ok := m.invert()
	require.True(t, ok)

	x, y := m.Apply(3, 7)
	bx, by := inv.Apply(x, y)
	assert.InDelta(t, 3.0, bx, 1e-12)
	assert.InDelta(t, 7.0, by, 1e-12)

	_, ok = Identity().Scale(0, 1).invert()
	assert.False(t, ok)
	assert.False(t, Identity().Scale(2, 2).permutation())
	assert.False(t, Identity().Translate(0.5, 0).permutation())
}

func TestAffineDrawRotatesClockwise(t *testing.T) {
	src := gradient(t, 3, 2, true)

	// Destination is 2x3; source (x, y) lands on (h-1-y, x).
	out, err := src.AffineDraw(Identity().Translate(2, 0).Rotate(Radians(90)), 2, 3, FilterNearest)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, src.At(x, y), out.At(1-y, x))
		}
	}
}

func TestAffineDrawFlipIsInvolution(t *testing.T) {
	src := gradient(t, 7, 5, true)
	flip := Identity().Translate(7, 0).Scale(-1, 1)

	once, err := src.AffineDraw(flip, 7, 5, FilterNearest)
	require.NoError(t, err)
	assert.Equal(t, src.At(0, 2), once.At(6, 2))

	twice, err := once.AffineDraw(flip, 7, 5, FilterNearest)
	require.NoError(t, err)
	assert.Equal(t, src.Pix(), twice.Pix())
}

func TestAffineDrawLeavesUnmappedPixels(t *testing.T) {
	opaque := gradient(t, 4, 4, false)
	out, err := opaque.AffineDraw(Identity().Translate(2, 0), 4, 4, FilterNearest)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{A: 0xff}, out.At(0, 0))
	assert.Equal(t, opaque.At(0, 1), out.At(2, 1))

	translucent := gradient(t, 4, 4, true)
	out, err = translucent.AffineDraw(Identity().Translate(0, 3), 4, 4, FilterNearest)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{}, out.At(1, 1))
	assert.Equal(t, translucent.At(1, 0), out.At(1, 3))
}

func TestAffineDrawInterpolatedMap(t *testing.T) {
	src := gradient(t, 20, 20, false)
	out, err := src.AffineDraw(Identity().Rotate(Radians(30)), 30, 30, FilterCatmullRom)
	require.NoError(t, err)
	assert.False(t, out.HasAlpha())
	pix := out.Pix()
	for i := 3; i < len(pix); i += 4 {
		require.Equal(t, uint8(0xff), pix[i])
	}
}

func TestAffineDrawSingular(t *testing.T) {
	src := gradient(t, 4, 4, false)
	_, err := src.AffineDraw(Identity().Scale(0, 0), 4, 4, FilterNearest)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}
