package imaging

import (
	"fmt"
	"image"
	"math"

	"github.com/webinv/pixelshape/internal/raster"
	"go.uber.org/zap"
)

// Resize scales the image down to exactly width×height. It never upscales.
//
// A single large reduction under-samples the source and aliases, so the image
// is halved step by step, each step clamped at the target, until it lands on
// the requested size.
func (t *Transformer) Resize(width, height int) error {
	if width == t.width && height == t.height {
		return nil
	}
	if err := t.checkDownscale("resize", width, height); err != nil {
		return err
	}

	next, err := t.downscale(t.buf, width, height)
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	t.replace(next)
	return nil
}

// ResizeFit fills exactly width×height without distortion: the image is first
// cropped, centered, to the target aspect ratio and then downscaled.
func (t *Transformer) ResizeFit(width, height int) error {
	if width == t.width && height == t.height {
		return nil
	}
	if err := t.checkDownscale("resize fit", width, height); err != nil {
		return err
	}

	x, y, cropW, cropH := fitCrop(t.width, t.height, width, height)

	src := t.buf
	if x != 0 || y != 0 || cropW != t.width || cropH != t.height {
		cropped, err := t.buf.SubImage(x, y, cropW, cropH)
		if err != nil {
			return fmt.Errorf("resize fit: %w", err)
		}
		src = cropped
	}

	next, err := t.downscale(src, width, height)
	if src != t.buf && src != next {
		src.Release()
	}
	if err != nil {
		return fmt.Errorf("resize fit: %w", err)
	}
	t.replace(next)

	t.logger.Debug("fit",
		zap.Int("crop_x", x), zap.Int("crop_y", y),
		zap.Int("crop_width", cropW), zap.Int("crop_height", cropH),
		zap.Int("width", width), zap.Int("height", height),
	)
	return nil
}

// ResizeToWidth downscales to width, keeping the aspect ratio.
func (t *Transformer) ResizeToWidth(width int) error {
	if width <= 0 {
		return t.reject("resize to width", "width %d", width)
	}
	return t.Resize(width, scaled(t.height, width, t.width))
}

// ResizeToHeight downscales to height, keeping the aspect ratio.
func (t *Transformer) ResizeToHeight(height int) error {
	if height <= 0 {
		return t.reject("resize to height", "height %d", height)
	}
	return t.Resize(scaled(t.width, height, t.height), height)
}

// ResizeToWidthHeight bounds the image by width, then by height. The height
// check sees the dimensions left by the width step.
func (t *Transformer) ResizeToWidthHeight(width, height int) error {
	if width < t.width {
		if err := t.ResizeToWidth(width); err != nil {
			return err
		}
	}
	if height < t.height {
		return t.ResizeToHeight(height)
	}
	return nil
}

func (t *Transformer) checkDownscale(op string, width, height int) error {
	if width <= 0 || height <= 0 {
		return t.reject(op, "target %dx%d", width, height)
	}
	if width > t.width || height > t.height {
		return t.reject(op, "target %dx%d exceeds %dx%d", width, height, t.width, t.height)
	}
	return nil
}

// downscale runs the halving plan from src. src itself is left untouched;
// intermediate buffers are released as soon as the next one exists.
func (t *Transformer) downscale(src *raster.Buffer, width, height int) (*raster.Buffer, error) {
	cur := src
	for i, step := range downscalePlan(src.Width(), src.Height(), width, height) {
		next, err := cur.Resample(step.X, step.Y, t.filter)
		if cur != src {
			cur.Release()
		}
		if err != nil {
			return nil, fmt.Errorf("step %d to %dx%d: %w", i+1, step.X, step.Y, err)
		}
		cur = next

		t.logger.Debug("downscale step",
			zap.Int("step", i+1), zap.Int("width", step.X), zap.Int("height", step.Y),
			zap.Stringer("filter", t.filter),
		)
	}
	return cur, nil
}

// downscalePlan lists the sizes visited when reducing w×h to tw×th: each
// dimension above its target is halved, but never below the target.
// It returns nil unless tw <= w and th <= h.
func downscalePlan(w, h, tw, th int) []image.Point {
	if tw <= 0 || th <= 0 || tw > w || th > h {
		return nil
	}

	var steps []image.Point
	for w != tw || h != th {
		if w > tw {
			w = max(tw, w/2)
		}
		if h > th {
			h = max(th, h/2)
		}
		steps = append(steps, image.Pt(w, h))
	}
	return steps
}

// fitCrop returns the centered rectangle of a w×h image whose aspect ratio
// matches tw×th.
func fitCrop(w, h, tw, th int) (x, y, cw, ch int) {
	cw = scaled(h, tw, th)
	ch = scaled(w, th, tw)

	switch {
	case cw < w:
		return (w - cw) / 2, 0, cw, h
	case ch < h:
		return 0, (h - ch) / 2, w, ch
	default:
		return 0, 0, w, h
	}
}

// scaled returns round(v*num/den), at least 1. For fractional ratios this can
// be one pixel more than truncating division: ResizeToHeight(200) on a 1000x333
// image gives 601x200, not 600x200.
func scaled(v, num, den int) int {
	return max(1, int(math.Round(float64(v)*float64(num)/float64(den))))
}
