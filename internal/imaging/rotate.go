package imaging

import (
	"fmt"
	"strings"

	"github.com/webinv/pixelshape/internal/raster"
	"go.uber.org/zap"
)

type Rotation int

const (
	CW90 Rotation = iota + 1
	CW180
	CW270
	FlipHorizontal
	FlipVertical
)

func (r Rotation) String() string {
	switch r {
	case CW90:
		return "cw_90"
	case CW180:
		return "cw_180"
	case CW270:
		return "cw_270"
	case FlipHorizontal:
		return "flip_horizontal"
	case FlipVertical:
		return "flip_vertical"
	default:
		return fmt.Sprintf("rotation(%d)", int(r))
	}
}

// ParseRotation accepts the names produced by Rotation.String, case-insensitively.
func ParseRotation(name string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cw_90":
		return CW90, nil
	case "cw_180":
		return CW180, nil
	case "cw_270":
		return CW270, nil
	case "flip_horizontal":
		return FlipHorizontal, nil
	case "flip_vertical":
		return FlipVertical, nil
	default:
		return 0, fmt.Errorf("%w: rotation %q", ErrUnsupportedTransform, name)
	}
}

// Rotate turns or mirrors the image. Quarter turns swap width and height.
// Pixels are permuted exactly; no interpolation is involved.
func (t *Transformer) Rotate(r Rotation) error {
	w, h := t.width, t.height
	m := raster.Identity()

	switch r {
	case CW90:
		w, h = t.height, t.width
		m = m.Translate(float64(w), 0).Rotate(raster.Radians(90))
	case CW270:
		w, h = t.height, t.width
		m = m.Translate(0, float64(h)).Rotate(raster.Radians(-90))
	case CW180:
		m = m.Translate(float64(w), float64(h)).Rotate(raster.Radians(180))
	case FlipHorizontal:
		m = m.Translate(float64(w), 0).Scale(-1, 1)
	case FlipVertical:
		m = m.Translate(0, float64(h)).Scale(1, -1)
	default:
		return fmt.Errorf("rotate: %w: %v", ErrUnsupportedTransform, r)
	}

	next, err := t.buf.AffineDraw(m, w, h, raster.FilterNearest)
	if err != nil {
		return fmt.Errorf("rotate %s: %w", r, err)
	}
	t.replace(next)

	t.logger.Debug("rotated", zap.Stringer("rotation", r), zap.Int("width", w), zap.Int("height", h))
	return nil
}
