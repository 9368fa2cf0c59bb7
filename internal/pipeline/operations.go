package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/webinv/pixelshape/internal/domain"
	"github.com/webinv/pixelshape/internal/imaging"
)

var ErrInvalidOperation = errors.New("invalid operation")

// Apply runs a single recipe operation against t.
func Apply(t *imaging.Transformer, op domain.Operation) error {
	switch strings.ToLower(strings.TrimSpace(op.Action)) {
	case domain.ActionRotate:
		rotation, err := imaging.ParseRotation(op.Rotation)
		if err != nil {
			return err
		}
		return t.Rotate(rotation)
	case domain.ActionCrop:
		return t.Crop(op.X, op.Y, op.Width, op.Height)
	case domain.ActionResize:
		return t.Resize(op.Width, op.Height)
	case domain.ActionResizeFit:
		return t.ResizeFit(op.Width, op.Height)
	case domain.ActionResizeToWidth:
		return t.ResizeToWidth(op.Width)
	case domain.ActionResizeToHeight:
		return t.ResizeToHeight(op.Height)
	case domain.ActionResizeToWidthHeight:
		return t.ResizeToWidthHeight(op.Width, op.Height)
	case domain.ActionResizeTo:
		return t.ResizeTo(op.Width, op.Height)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, op.Action)
	}
}
