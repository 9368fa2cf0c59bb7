package raster

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{
		"":               FilterCatmullRom,
		"bicubic":        FilterCatmullRom,
		"BiLinear":       FilterBiLinear,
		"approxbilinear": FilterApproxBiLinear,
		" nearest ":      FilterNearest,
		"lanczos3":       FilterLanczos,
	} {
		got, err := ParseFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFilter("sinc")
	assert.Error(t, err)
}

func TestResampleKeepsChannelMode(t *testing.T) {
	for _, filter := range []Filter{FilterCatmullRom, FilterBiLinear, FilterNearest, FilterLanczos} {
		t.Run(filter.String(), func(t *testing.T) {
			opaque := gradient(t, 40, 30, false)
			out, err := opaque.Resample(20, 15, filter)
			require.NoError(t, err)
			assert.Equal(t, 20, out.Width())
			assert.Equal(t, 15, out.Height())
			assert.False(t, out.HasAlpha())
			pix := out.Pix()
			for i := 3; i < len(pix); i += 4 {
				require.Equal(t, uint8(0xff), pix[i], "opaque buffer gained alpha at %d", i)
			}

			translucent := gradient(t, 40, 30, true)
			out, err = translucent.Resample(10, 10, filter)
			require.NoError(t, err)
			assert.True(t, out.HasAlpha())
		})
	}
}

func TestResampleUniformColorStaysUniform(t *testing.T) {
	b, err := New(64, 64, false)
	require.NoError(t, err)
	fill := color.NRGBA{R: 200, G: 100, B: 50, A: 0xff}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			b.Set(x, y, fill)
		}
	}

	out, err := b.Resample(16, 8, FilterCatmullRom)
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			assert.Equal(t, fill, out.At(x, y))
		}
	}
}

func TestResampleRejectsEmptyTarget(t *testing.T) {
	b := gradient(t, 4, 4, false)
	_, err := b.Resample(0, 4, FilterCatmullRom)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestScaleIntoCentersOnCanvas(t *testing.T) {
	src, err := New(2, 2, false)
	require.NoError(t, err)
	white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			src.Set(x, y, white)
		}
	}

	canvas, err := New(6, 2, false)
	require.NoError(t, err)
	require.NoError(t, src.ScaleInto(canvas, image.Rect(2, 0, 4, 2), FilterNearest))

	assert.Equal(t, color.NRGBA{A: 0xff}, canvas.At(0, 0))
	assert.Equal(t, white, canvas.At(2, 1))
	assert.Equal(t, white, canvas.At(3, 0))
	assert.Equal(t, color.NRGBA{A: 0xff}, canvas.At(5, 1))

	assert.ErrorIs(t, src.ScaleInto(canvas, image.Rectangle{}, FilterNearest), ErrInvalidGeometry)
}
