// Package raster holds decoded pixel data and the primitives transforms are
// built from: sub-rectangle copies, smooth resampling and affine drawing.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// MaxPixels bounds a single buffer allocation (about 1 GiB of pixel storage).
const MaxPixels = 1 << 28

var (
	ErrBufferConstruction = errors.New("buffer construction failed")
	ErrInvalidGeometry    = errors.New("invalid geometry")

	errSingular = fmt.Errorf("%w: singular transform", ErrInvalidGeometry)
)

// Buffer is a width×height grid of pixels in one of two channel modes.
// Opaque buffers are backed by *image.RGBA with alpha pinned at 255,
// alpha-capable buffers by *image.NRGBA. The mode is fixed when the buffer is
// created and inherited by every buffer derived from it.
type Buffer struct {
	img    draw.Image
	width  int
	height int
	alpha  bool
}

// New allocates a zeroed buffer. Opaque buffers start opaque black,
// alpha-capable ones fully transparent.
func New(width, height int, alpha bool) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBufferConstruction, width, height)
	}
	if int64(width)*int64(height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrBufferConstruction, width, height, MaxPixels)
	}

	rect := image.Rect(0, 0, width, height)
	b := &Buffer{width: width, height: height, alpha: alpha}
	if alpha {
		b.img = image.NewNRGBA(rect)
		return b, nil
	}

	rgba := image.NewRGBA(rect)
	for i := 3; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i] = 0xff
	}
	b.img = rgba
	return b, nil
}

// FromImage copies img into a new buffer. The channel mode is decided here,
// once: images reporting Opaque() become opaque buffers.
func FromImage(img image.Image) (*Buffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrBufferConstruction)
	}

	bounds := img.Bounds()
	b, err := New(bounds.Dx(), bounds.Dy(), !isOpaque(img))
	if err != nil {
		return nil, err
	}
	draw.Draw(b.img, b.img.Bounds(), img, bounds.Min, draw.Src)
	b.settle()
	return b, nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

func (b *Buffer) Width() int     { return b.width }
func (b *Buffer) Height() int    { return b.height }
func (b *Buffer) HasAlpha() bool { return b.alpha }

// Image exposes the backing image. Callers must not retain it past the
// buffer's release.
func (b *Buffer) Image() image.Image { return b.img }

// Pix returns the raw row-major storage, four bytes per pixel.
func (b *Buffer) Pix() []uint8 {
	switch img := b.img.(type) {
	case *image.RGBA:
		return img.Pix
	case *image.NRGBA:
		return img.Pix
	default:
		return nil
	}
}

// At returns the pixel at (x, y) as non-premultiplied RGBA.
func (b *Buffer) At(x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(b.img.At(x, y)).(color.NRGBA)
}

// Set writes c at (x, y). Opaque buffers drop the alpha channel.
func (b *Buffer) Set(x, y int, c color.NRGBA) {
	if !b.alpha {
		c.A = 0xff
	}
	b.img.Set(x, y, c)
}

// Release drops the pixel storage. The buffer must not be used afterwards.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.img = nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b == nil || b.img == nil
}

// Clone returns a deep copy.
func (b *Buffer) Clone() (*Buffer, error) {
	return b.SubImage(0, 0, b.width, b.height)
}

// SubImage copies the rectangle [x, x+w) × [y, y+h) into a new buffer.
// The result never aliases b's storage.
func (b *Buffer) SubImage(x, y, w, h int) (*Buffer, error) {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > b.width || y+h > b.height {
		return nil, fmt.Errorf("%w: rect (%d,%d %dx%d) outside %dx%d", ErrInvalidGeometry, x, y, w, h, b.width, b.height)
	}

	dst, err := New(w, h, b.alpha)
	if err != nil {
		return nil, err
	}
	draw.Draw(dst.img, dst.img.Bounds(), b.img, image.Pt(x, y), draw.Src)
	return dst, nil
}

// settle pins alpha at 255 for opaque buffers so a source that reported
// Opaque() but carried stray alpha values cannot leak them.
func (b *Buffer) settle() {
	if b.alpha {
		return
	}
	pix := b.Pix()
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
}

func checkTarget(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: target %dx%d", ErrInvalidGeometry, w, h)
	}
	return nil
}
