package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/webinv/pixelshape/internal/codec"
	"github.com/webinv/pixelshape/internal/domain"
)

const DefaultOutputPrefix = "outputs"

// ObjectStorage is the subset of the storage client the stages need.
type ObjectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func NewObjectStoreProcessor(storage ObjectStorage, outputPrefix string, opts ...Option) (*Processor, error) {
	if storage == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(
		ObjectStoreFetcher{Storage: storage},
		ObjectStoreEmitter{Storage: storage, OutputPrefix: outputPrefix},
		opts...,
	)
}

type ObjectStoreFetcher struct {
	Storage ObjectStorage
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStorage
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, rendition domain.Rendition, data []byte, format codec.Format, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(rendition.ID) == "" {
		return Output{}, errors.New("rendition id is required")
	}

	prefix := strings.Trim(strings.TrimSpace(e.OutputPrefix), "/")
	if prefix == "" {
		prefix = DefaultOutputPrefix
	}
	objectKey := path.Join(prefix, sanitizePathToken(req.JobID), outputName(rendition, format))

	if err := e.Storage.WriteObject(ctx, objectKey, data, format.ContentType()); err != nil {
		return Output{}, err
	}

	return Output{
		RenditionID: rendition.ID,
		Format:      string(format),
		Path:        objectKey,
		Bytes:       len(data),
		Width:       width,
		Height:      height,
	}, nil
}
