package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

// Operation actions, applied in order to a rendition's buffer.
const (
	ActionRotate              = "rotate"
	ActionCrop                = "crop"
	ActionResize              = "resize"
	ActionResizeFit           = "resize_fit"
	ActionResizeToWidth       = "resize_to_width"
	ActionResizeToHeight      = "resize_to_height"
	ActionResizeToWidthHeight = "resize_to_width_height"
	ActionResizeTo            = "resize_to"
)

var ErrInvalidRequest = errors.New("invalid job request")

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateJobRequest struct {
	SourceType string      `json:"source_type" validate:"required,oneof=local_file s3_presigned"`
	WebhookURL string      `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ObjectKey  string      `json:"object_key,omitempty" validate:"required_if=SourceType local_file"`
	Renditions []Rendition `json:"renditions" validate:"required,min=1,max=32,dive"`
}

// Rendition is one output derived from the job's source image.
type Rendition struct {
	ID         string      `json:"id" validate:"required,max=64"`
	Format     string      `json:"format,omitempty" validate:"omitempty,oneof=jpeg jpg png gif bmp tiff tif webp"`
	Quality    int         `json:"quality,omitempty" validate:"min=0,max=100"`
	Operations []Operation `json:"operations" validate:"max=16,dive"`
}

type Operation struct {
	Action   string `json:"action" validate:"required,oneof=rotate crop resize resize_fit resize_to_width resize_to_height resize_to_width_height resize_to"`
	Rotation string `json:"rotation,omitempty" validate:"omitempty,oneof=cw_90 cw_180 cw_270 flip_horizontal flip_vertical"`
	X        int    `json:"x,omitempty" validate:"min=0"`
	Y        int    `json:"y,omitempty" validate:"min=0"`
	Width    int    `json:"width,omitempty" validate:"min=0"`
	Height   int    `json:"height,omitempty" validate:"min=0"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Renditions []Rendition
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Normalize trims and lowercases enum-like fields in place.
func (r *CreateJobRequest) Normalize() {
	r.SourceType = strings.ToLower(strings.TrimSpace(r.SourceType))
	r.ObjectKey = strings.TrimSpace(r.ObjectKey)
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)
	for i := range r.Renditions {
		rd := &r.Renditions[i]
		rd.ID = strings.TrimSpace(rd.ID)
		rd.Format = strings.ToLower(strings.TrimSpace(rd.Format))
		for j := range rd.Operations {
			op := &rd.Operations[j]
			op.Action = strings.ToLower(strings.TrimSpace(op.Action))
			op.Rotation = strings.ToLower(strings.TrimSpace(op.Rotation))
		}
	}
}

func (r CreateJobRequest) Validate() error {
	r.Normalize()

	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(fieldErrs[0]))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	seen := make(map[string]struct{}, len(r.Renditions))
	for i, rd := range r.Renditions {
		if _, dup := seen[rd.ID]; dup {
			return fmt.Errorf("%w: renditions[%d].id %q is duplicated", ErrInvalidRequest, i, rd.ID)
		}
		seen[rd.ID] = struct{}{}

		for j, op := range rd.Operations {
			if err := op.Validate(); err != nil {
				return fmt.Errorf("%w: renditions[%d].operations[%d]: %v", ErrInvalidRequest, i, j, err)
			}
		}
	}
	return nil
}

// Validate checks that the parameters required by the action are present.
func (o Operation) Validate() error {
	switch o.Action {
	case ActionRotate:
		if o.Rotation == "" {
			return errors.New("rotation is required")
		}
	case ActionResizeToWidth:
		if o.Width <= 0 {
			return errors.New("width must be positive")
		}
	case ActionResizeToHeight:
		if o.Height <= 0 {
			return errors.New("height must be positive")
		}
	case ActionCrop, ActionResize, ActionResizeFit, ActionResizeToWidthHeight, ActionResizeTo:
		if o.Width <= 0 || o.Height <= 0 {
			return errors.New("width and height must be positive")
		}
	default:
		return fmt.Errorf("unsupported action %q", o.Action)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
