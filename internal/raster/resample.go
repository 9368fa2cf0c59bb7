package raster

import (
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Filter selects the interpolation kernel used when resampling.
type Filter int

const (
	// FilterCatmullRom is the bicubic Catmull-Rom kernel. It is the default.
	FilterCatmullRom Filter = iota
	FilterBiLinear
	FilterApproxBiLinear
	FilterNearest
	// FilterLanczos uses a Lanczos-3 kernel via nfnt/resize.
	FilterLanczos
)

func (f Filter) String() string {
	switch f {
	case FilterCatmullRom:
		return "catmullrom"
	case FilterBiLinear:
		return "bilinear"
	case FilterApproxBiLinear:
		return "approxbilinear"
	case FilterNearest:
		return "nearest"
	case FilterLanczos:
		return "lanczos"
	default:
		return fmt.Sprintf("filter(%d)", int(f))
	}
}

// ParseFilter maps a config value to a Filter. The empty string selects the
// default.
func ParseFilter(name string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "catmullrom", "bicubic":
		return FilterCatmullRom, nil
	case "bilinear":
		return FilterBiLinear, nil
	case "approxbilinear":
		return FilterApproxBiLinear, nil
	case "nearest", "nearestneighbor":
		return FilterNearest, nil
	case "lanczos", "lanczos3":
		return FilterLanczos, nil
	default:
		return 0, fmt.Errorf("unknown resample filter %q", name)
	}
}

// interpolator returns the x/image kernel for f. Lanczos has no x/image
// counterpart and maps to Catmull-Rom where an Interpolator is required.
func (f Filter) interpolator() draw.Interpolator {
	switch f {
	case FilterBiLinear:
		return draw.BiLinear
	case FilterApproxBiLinear:
		return draw.ApproxBiLinear
	case FilterNearest:
		return draw.NearestNeighbor
	default:
		return draw.CatmullRom
	}
}

// Resample maps the whole buffer onto a new dstW×dstH buffer with the same
// channel mode.
func (b *Buffer) Resample(dstW, dstH int, filter Filter) (*Buffer, error) {
	if err := checkTarget(dstW, dstH); err != nil {
		return nil, err
	}

	dst, err := New(dstW, dstH, b.alpha)
	if err != nil {
		return nil, err
	}

	if filter == FilterLanczos {
		scaled := resize.Resize(uint(dstW), uint(dstH), b.img, resize.Lanczos3)
		draw.Draw(dst.img, dst.img.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	} else {
		filter.interpolator().Scale(dst.img, dst.img.Bounds(), b.img, b.img.Bounds(), draw.Src, nil)
	}

	dst.settle()
	return dst, nil
}

// ScaleInto draws the whole buffer scaled into r of dst, compositing over
// what dst already holds.
func (b *Buffer) ScaleInto(dst *Buffer, r image.Rectangle, filter Filter) error {
	if r.Empty() {
		return fmt.Errorf("%w: empty destination rectangle", ErrInvalidGeometry)
	}

	if filter == FilterLanczos {
		scaled := resize.Resize(uint(r.Dx()), uint(r.Dy()), b.img, resize.Lanczos3)
		draw.Draw(dst.img, r, scaled, scaled.Bounds().Min, draw.Over)
	} else {
		filter.interpolator().Scale(dst.img, r, b.img, b.img.Bounds(), draw.Over, nil)
	}

	dst.settle()
	return nil
}
