package imaging

import (
	"fmt"
	"image"

	"github.com/webinv/pixelshape/internal/raster"
	"go.uber.org/zap"
)

// Crop keeps the rectangle [x, x+width) × [y, y+height). Cropping to the full
// image is a no-op; a rectangle reaching outside the image is rejected.
func (t *Transformer) Crop(x, y, width, height int) error {
	if x == 0 && y == 0 && width == t.width && height == t.height {
		return nil
	}
	if !t.contains(x, y, width, height) {
		return t.reject("crop", "rect (%d,%d %dx%d) outside %dx%d", x, y, width, height, t.width, t.height)
	}

	next, err := t.buf.SubImage(x, y, width, height)
	if err != nil {
		return fmt.Errorf("crop: %w", err)
	}
	t.replace(next)

	t.logger.Debug("cropped", zap.Int("x", x), zap.Int("y", y), zap.Int("width", width), zap.Int("height", height))
	return nil
}

func (t *Transformer) contains(x, y, width, height int) bool {
	return x >= 0 && y >= 0 && width > 0 && height > 0 &&
		x+width <= t.width && y+height <= t.height
}

// ResizeTo places the image on an opaque black width×height canvas at its
// natural size. Along an axis where the canvas is larger the image is
// centered; otherwise it is anchored at the origin and clipped. Transparent
// pixels composite over black.
func (t *Transformer) ResizeTo(width, height int) error {
	if width == t.width && height == t.height {
		return nil
	}
	if width <= 0 || height <= 0 {
		return t.reject("resize to", "canvas %dx%d", width, height)
	}

	canvas, err := raster.New(width, height, false)
	if err != nil {
		return fmt.Errorf("resize to: %w", err)
	}

	x, y := 0, 0
	if t.width < width {
		x = (width - t.width) / 2
	}
	if t.height < height {
		y = (height - t.height) / 2
	}

	if err := t.buf.ScaleInto(canvas, image.Rect(x, y, x+t.width, y+t.height), raster.FilterNearest); err != nil {
		canvas.Release()
		return fmt.Errorf("resize to: %w", err)
	}
	t.replace(canvas)
	return nil
}
