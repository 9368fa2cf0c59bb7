package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/webinv/pixelshape/internal/codec"
	"github.com/webinv/pixelshape/internal/domain"
	"github.com/webinv/pixelshape/internal/raster"
)

func benchmarkRendition(b *testing.B, opts []Option, rendition domain.Rendition) {
	b.Helper()

	processor, err := NewProcessor(staticFetcher{data: buildTestPNG(b, 1920, 1080)}, discardEmitter{}, opts...)
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		JobID:      "bench",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "ignored.png",
		Renditions: []domain.Rendition{rendition},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorResizeFit(b *testing.B) {
	benchmarkRendition(b, nil, domain.Rendition{
		ID:      "fit_640_jpeg",
		Format:  "jpeg",
		Quality: 82,
		Operations: []domain.Operation{
			{Action: domain.ActionResizeFit, Width: 640, Height: 640},
		},
	})
}

func BenchmarkProcessorResizeLanczos(b *testing.B) {
	benchmarkRendition(b, []Option{WithFilter(raster.FilterLanczos)}, domain.Rendition{
		ID:     "resize_480_png",
		Format: "png",
		Operations: []domain.Operation{
			{Action: domain.ActionResizeToWidth, Width: 480},
		},
	})
}

func BenchmarkProcessorRotate(b *testing.B) {
	benchmarkRendition(b, nil, domain.Rendition{
		ID:     "rotate_png",
		Format: "png",
		Operations: []domain.Operation{
			{Action: domain.ActionRotate, Rotation: "cw_90"},
		},
	})
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, rendition domain.Rendition, data []byte, format codec.Format, width, height int) (Output, error) {
	return Output{
		RenditionID: rendition.ID,
		Format:      string(format),
		Bytes:       len(data),
		Width:       width,
		Height:      height,
	}, nil
}
