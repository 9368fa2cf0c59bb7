package imaging

import (
	"crypto/sha256"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webinv/pixelshape/internal/raster"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTransformer(t testing.TB, w, h int, alpha bool, opts ...Option) *Transformer {
	t.Helper()

	buf, err := raster.New(w, h, alpha)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(0xff)
			if alpha {
				a = uint8(32 + (x*3+y)%200)
			}
			buf.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: a})
		}
	}

	tr, err := New(buf, opts...)
	require.NoError(t, err)
	return tr
}

func digest(tr *Transformer) [32]byte {
	return sha256.Sum256(tr.Buffer().Pix())
}

func assertSize(t *testing.T, tr *Transformer, w, h int) {
	t.Helper()
	assert.Equal(t, w, tr.Width(), "cached width")
	assert.Equal(t, h, tr.Height(), "cached height")
	assert.Equal(t, w, tr.Buffer().Width(), "buffer width")
	assert.Equal(t, h, tr.Buffer().Height(), "buffer height")
}

func TestNewRequiresBuffer(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoBuffer)

	buf, err := raster.New(2, 2, false)
	require.NoError(t, err)
	buf.Release()
	_, err = New(buf)
	assert.ErrorIs(t, err, ErrNoBuffer)
}

func TestFromImage(t *testing.T) {
	tr, err := FromImage(image.NewNRGBA(image.Rect(0, 0, 6, 4)))
	require.NoError(t, err)
	assertSize(t, tr, 6, 4)
	assert.True(t, tr.HasAlpha())
	assert.Equal(t, image.Rect(0, 0, 6, 4), tr.Image().Bounds())
}

func TestResizeSameSizeIsIdentity(t *testing.T) {
	tr := newTransformer(t, 40, 30, false)
	buf, sum := tr.Buffer(), digest(tr)

	require.NoError(t, tr.Resize(40, 30))
	require.NoError(t, tr.ResizeFit(40, 30))
	require.NoError(t, tr.ResizeTo(40, 30))

	assert.Same(t, buf, tr.Buffer())
	assert.Equal(t, sum, digest(tr))
	assertSize(t, tr, 40, 30)
}

func TestDownscaleOnly(t *testing.T) {
	for _, target := range [][2]int{{41, 30}, {40, 31}, {100, 2}, {0, 10}, {10, -3}} {
		tr := newTransformer(t, 40, 30, false)
		sum := digest(tr)

		assert.ErrorIs(t, tr.Resize(target[0], target[1]), ErrInvalidGeometry, "resize %v", target)
		assert.ErrorIs(t, tr.ResizeFit(target[0], target[1]), ErrInvalidGeometry, "fit %v", target)
		assertSize(t, tr, 40, 30)
		assert.Equal(t, sum, digest(tr))
	}
}

func TestLenientGeometryIsSilentNoop(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tr := newTransformer(t, 40, 30, false, WithLenientGeometry(), WithLogger(zap.New(core)))
	sum := digest(tr)

	assert.NoError(t, tr.Resize(80, 10))
	assert.NoError(t, tr.ResizeFit(10, 60))
	assert.NoError(t, tr.Crop(35, 0, 10, 10))
	assert.NoError(t, tr.ResizeToWidth(0))
	assertSize(t, tr, 40, 30)
	assert.Equal(t, sum, digest(tr))
	assert.Equal(t, 4, logs.FilterMessage("geometry rejected").Len())
}

func TestResizeHitsTargetExactly(t *testing.T) {
	for _, tc := range []struct {
		w, h, tw, th int
	}{
		{1000, 800, 400, 400},
		{1000, 800, 3, 7},
		{999, 333, 1, 1},
		{257, 129, 256, 128},
		{640, 480, 639, 1},
		{31, 17, 30, 17},
	} {
		tr := newTransformer(t, tc.w, tc.h, false)
		require.NoError(t, tr.Resize(tc.tw, tc.th))
		assertSize(t, tr, tc.tw, tc.th)
		assert.False(t, tr.HasAlpha())
	}
}

func TestResizeKeepsAlphaMode(t *testing.T) {
	tr := newTransformer(t, 64, 48, true)
	require.NoError(t, tr.Resize(8, 6))
	assert.True(t, tr.HasAlpha())
	assertSize(t, tr, 8, 6)
}

func TestDownscalePlanConverges(t *testing.T) {
	for w := 1; w <= 300; w += 37 {
		for h := 1; h <= 300; h += 41 {
			for _, tw := range []int{1, w / 3, w / 2, w} {
				for _, th := range []int{1, h / 5, h} {
					if tw < 1 || th < 1 {
						continue
					}
					plan := downscalePlan(w, h, tw, th)
					ratio := math.Max(float64(w)/float64(tw), float64(h)/float64(th))
					bound := int(math.Ceil(math.Log2(ratio)))

					assert.LessOrEqual(t, len(plan), bound, "%dx%d -> %dx%d", w, h, tw, th)
					if w == tw && h == th {
						assert.Empty(t, plan)
						continue
					}
					require.NotEmpty(t, plan)
					assert.Equal(t, image.Pt(tw, th), plan[len(plan)-1])
				}
			}
		}
	}
}

func TestDownscalePlanHalves(t *testing.T) {
	plan := downscalePlan(1024, 512, 16, 64)
	assert.Equal(t, []image.Point{
		{512, 256}, {256, 128}, {128, 64}, {64, 64}, {32, 64}, {16, 64},
	}, plan)

	assert.Nil(t, downscalePlan(10, 10, 20, 5))
	assert.Nil(t, downscalePlan(10, 10, 0, 5))
}

func TestResizeFitScenario(t *testing.T) {
	x, y, cw, ch := fitCrop(1000, 800, 400, 400)
	assert.Equal(t, [4]int{100, 0, 800, 800}, [4]int{x, y, cw, ch})

	tr := newTransformer(t, 1000, 800, false)
	require.NoError(t, tr.ResizeFit(400, 400))
	assertSize(t, tr, 400, 400)
}

func TestFitCrop(t *testing.T) {
	for _, tc := range []struct {
		name         string
		w, h, tw, th int
		x, y, cw, ch int
	}{
		{"wide source", 1000, 800, 400, 400, 100, 0, 800, 800},
		{"tall source", 600, 1200, 300, 200, 0, 400, 600, 400},
		{"same aspect", 800, 600, 400, 300, 0, 0, 800, 600},
		{"odd remainder", 101, 50, 50, 50, 25, 0, 50, 50},
	} {
		t.Run(tc.name, func(t *testing.T) {
			x, y, cw, ch := fitCrop(tc.w, tc.h, tc.tw, tc.th)
			assert.Equal(t, [4]int{tc.x, tc.y, tc.cw, tc.ch}, [4]int{x, y, cw, ch})
		})
	}
}

func TestResizeFitCropOnly(t *testing.T) {
	tr := newTransformer(t, 30, 20, false)
	want, err := tr.Buffer().SubImage(5, 0, 20, 20)
	require.NoError(t, err)

	require.NoError(t, tr.ResizeFit(20, 20))
	assertSize(t, tr, 20, 20)
	assert.Equal(t, want.Pix(), tr.Buffer().Pix())
}

func TestResizeToWidthAndHeight(t *testing.T) {
	tr := newTransformer(t, 1000, 800, false)
	require.NoError(t, tr.ResizeToWidth(500))
	assertSize(t, tr, 500, 400)

	tr = newTransformer(t, 1000, 800, false)
	require.NoError(t, tr.ResizeToHeight(333))
	assertSize(t, tr, 416, 333)

	tr = newTransformer(t, 4000, 2, false)
	require.NoError(t, tr.ResizeToWidth(10))
	assertSize(t, tr, 10, 1)

	tr = newTransformer(t, 100, 80, false)
	assert.ErrorIs(t, tr.ResizeToWidth(200), ErrInvalidGeometry)
	assert.ErrorIs(t, tr.ResizeToHeight(-1), ErrInvalidGeometry)
	assertSize(t, tr, 100, 80)
}

func TestResizeToWidthHeightOrder(t *testing.T) {
	tr := newTransformer(t, 1000, 800, false)
	require.NoError(t, tr.ResizeToWidthHeight(600, 500))
	assertSize(t, tr, 600, 480)

	tr = newTransformer(t, 1000, 800, false)
	require.NoError(t, tr.ResizeToWidthHeight(600, 300))
	assertSize(t, tr, 375, 300)

	tr = newTransformer(t, 100, 80, false)
	require.NoError(t, tr.ResizeToWidthHeight(200, 200))
	assertSize(t, tr, 100, 80)
}

func TestOperationsReleaseReplacedBuffer(t *testing.T) {
	tr := newTransformer(t, 20, 20, false)

	prev := tr.Buffer()
	require.NoError(t, tr.Crop(0, 0, 10, 10))
	assert.True(t, prev.Released())

	prev = tr.Buffer()
	require.NoError(t, tr.Resize(3, 3))
	assert.True(t, prev.Released())
	assert.False(t, tr.Buffer().Released())

	prev = tr.Buffer()
	require.NoError(t, tr.Rotate(CW90))
	assert.True(t, prev.Released())
}

func TestReleaseFreesBuffer(t *testing.T) {
	tr := newTransformer(t, 4, 4, false)
	buf := tr.Buffer()
	tr.Release()
	assert.True(t, buf.Released())
}

func TestAllocationFailureLeavesStateIntact(t *testing.T) {
	for _, lenient := range []bool{false, true} {
		var opts []Option
		if lenient {
			opts = append(opts, WithLenientGeometry())
		}
		tr := newTransformer(t, 8, 6, true, opts...)
		buf := tr.Buffer()
		before := digest(tr)

		err := tr.ResizeTo(raster.MaxPixels, 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, raster.ErrBufferConstruction), "lenient=%v: %v", lenient, err)
		assert.Same(t, buf, tr.Buffer())
		assert.False(t, buf.Released())
		assert.Equal(t, before, digest(tr))
		assertSize(t, tr, 8, 6)
	}
}
