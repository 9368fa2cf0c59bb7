// Package imaging applies geometric transforms to a decoded image: rotation
// and flips, cropping, progressive downscaling and aspect-preserving fits.
//
// A Transformer owns exactly one raster.Buffer. Every operation builds a new
// buffer from the current one and swaps it in only after it is complete, so a
// failed operation leaves the Transformer as it was. A Transformer is not safe
// for concurrent use.
package imaging

import (
	"errors"
	"fmt"
	"image"

	"github.com/webinv/pixelshape/internal/raster"
	"go.uber.org/zap"
)

var (
	ErrInvalidGeometry      = raster.ErrInvalidGeometry
	ErrUnsupportedTransform = errors.New("unsupported transform")
	ErrNoBuffer             = errors.New("transformer has no buffer")
)

type Transformer struct {
	buf    *raster.Buffer
	width  int
	height int

	filter  raster.Filter
	lenient bool
	logger  *zap.Logger
}

type Option func(*Transformer)

// WithLogger routes diagnostic events to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transformer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithFilter selects the resampling kernel for resize operations.
func WithFilter(filter raster.Filter) Option {
	return func(t *Transformer) {
		t.filter = filter
	}
}

// WithLenientGeometry makes rejected crop and resize parameters a silent
// no-op instead of an ErrInvalidGeometry error.
func WithLenientGeometry() Option {
	return func(t *Transformer) {
		t.lenient = true
	}
}

// New takes ownership of buf.
func New(buf *raster.Buffer, opts ...Option) (*Transformer, error) {
	if buf.Released() {
		return nil, ErrNoBuffer
	}

	t := &Transformer{
		filter: raster.FilterCatmullRom,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.replace(buf)
	return t, nil
}

// FromImage copies img into a new buffer and wraps it.
func FromImage(img image.Image, opts ...Option) (*Transformer, error) {
	buf, err := raster.FromImage(img)
	if err != nil {
		return nil, err
	}
	return New(buf, opts...)
}

func (t *Transformer) Width() int     { return t.width }
func (t *Transformer) Height() int    { return t.height }
func (t *Transformer) HasAlpha() bool { return t.buf.HasAlpha() }

// Buffer returns the owned buffer. It is replaced, and the returned one
// released, by the next successful operation.
func (t *Transformer) Buffer() *raster.Buffer { return t.buf }

// Image returns a view of the current pixels for encoders.
func (t *Transformer) Image() image.Image { return t.buf.Image() }

// Release frees the owned buffer. The Transformer must not be used afterwards.
func (t *Transformer) Release() { t.buf.Release() }

// replace swaps in next and releases the previous buffer.
func (t *Transformer) replace(next *raster.Buffer) {
	prev := t.buf
	t.buf = next
	t.width = next.Width()
	t.height = next.Height()
	if prev != nil && prev != next {
		prev.Release()
	}
}

// reject reports invalid geometry according to the configured policy.
func (t *Transformer) reject(op string, format string, args ...any) error {
	err := fmt.Errorf("%s: %w: %s", op, ErrInvalidGeometry, fmt.Sprintf(format, args...))
	if t.lenient {
		t.logger.Debug("geometry rejected", zap.String("op", op), zap.Error(err))
		return nil
	}
	return err
}
