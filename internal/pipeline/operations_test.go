package pipeline

import (
	"errors"
	"image"
	"testing"

	"github.com/webinv/pixelshape/internal/domain"
	"github.com/webinv/pixelshape/internal/imaging"
)

func TestApply(t *testing.T) {
	for _, tc := range []struct {
		op   domain.Operation
		w, h int
	}{
		{domain.Operation{Action: domain.ActionRotate, Rotation: "CW_270"}, 60, 100},
		{domain.Operation{Action: domain.ActionRotate, Rotation: "flip_horizontal"}, 100, 60},
		{domain.Operation{Action: domain.ActionCrop, X: 10, Y: 10, Width: 30, Height: 20}, 30, 20},
		{domain.Operation{Action: domain.ActionResize, Width: 25, Height: 15}, 25, 15},
		{domain.Operation{Action: domain.ActionResizeFit, Width: 40, Height: 40}, 40, 40},
		{domain.Operation{Action: domain.ActionResizeToWidth, Width: 50}, 50, 30},
		{domain.Operation{Action: domain.ActionResizeToHeight, Height: 30}, 50, 30},
		{domain.Operation{Action: domain.ActionResizeToWidthHeight, Width: 80, Height: 30}, 50, 30},
		{domain.Operation{Action: " Resize_To ", Width: 120, Height: 50}, 120, 50},
	} {
		t.Run(tc.op.Action, func(t *testing.T) {
			tr, err := imaging.FromImage(image.NewRGBA(image.Rect(0, 0, 100, 60)))
			if err != nil {
				t.Fatalf("new transformer: %v", err)
			}
			if err := Apply(tr, tc.op); err != nil {
				t.Fatalf("apply %+v: %v", tc.op, err)
			}
			if tr.Width() != tc.w || tr.Height() != tc.h {
				t.Fatalf("expected %dx%d, got %dx%d", tc.w, tc.h, tr.Width(), tr.Height())
			}
		})
	}
}

func TestApplyRejectsUnknownInput(t *testing.T) {
	tr, err := imaging.FromImage(image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}

	err = Apply(tr, domain.Operation{Action: "watermark"})
	if !errors.Is(err, ErrInvalidOperation) || !IsPermanent(err) {
		t.Fatalf("expected permanent ErrInvalidOperation, got %v", err)
	}

	err = Apply(tr, domain.Operation{Action: domain.ActionRotate, Rotation: "cw_45"})
	if !errors.Is(err, imaging.ErrUnsupportedTransform) {
		t.Fatalf("expected ErrUnsupportedTransform, got %v", err)
	}
}
