// Package pipeline runs a job's renditions: it fetches and decodes the source
// once, applies each rendition's operations to its own copy of the pixels,
// then encodes and emits the result.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/webinv/pixelshape/internal/codec"
	"github.com/webinv/pixelshape/internal/domain"
	"github.com/webinv/pixelshape/internal/imaging"
	"github.com/webinv/pixelshape/internal/raster"
	"github.com/webinv/pixelshape/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUndecodableSource     = errors.New("source is not a decodable image")
	ErrEmptyRequest          = errors.New("request has no renditions")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Renditions []domain.Rendition
}

type Output struct {
	RenditionID string `json:"rendition_id"`
	Format      string `json:"format"`
	Path        string `json:"path"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type Result struct {
	SourceFormat string   `json:"source_format"`
	SourceBytes  int      `json:"source_bytes"`
	SourceWidth  int      `json:"source_width"`
	SourceHeight int      `json:"source_height"`
	Outputs      []Output `json:"outputs"`
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, rendition domain.Rendition, data []byte, format codec.Format, width, height int) (Output, error)
}

type Processor struct {
	fetcher Fetcher
	emitter Emitter
	filter  raster.Filter
	lenient bool
	logger  *zap.Logger
	tracer  trace.Tracer
}

type Option func(*Processor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithFilter(filter raster.Filter) Option {
	return func(p *Processor) {
		p.filter = filter
	}
}

// WithLenientGeometry skips operations whose geometry would be rejected.
func WithLenientGeometry(lenient bool) Option {
	return func(p *Processor) {
		p.lenient = lenient
	}
}

func NewProcessor(fetcher Fetcher, emitter Emitter, opts ...Option) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}

	p := &Processor{
		fetcher: fetcher,
		emitter: emitter,
		filter:  raster.FilterCatmullRom,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("pixelshape/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func NewLocalProcessor(outputDir string, opts ...Option) (*Processor, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, opts...)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Renditions) == 0 {
		return Result{}, ErrEmptyRequest
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.Int("job.renditions", len(req.Renditions)),
	)
	defer span.End()

	result, err := p.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		return Result{}, err
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, req Request) (Result, error) {
	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	cfg, _, err := codec.DecodeConfig(sourceBytes)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w: %w", ErrUndecodableSource, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > raster.MaxPixels {
		return Result{}, fmt.Errorf("decode stage: %w: source is %dx%d", raster.ErrBufferConstruction, cfg.Width, cfg.Height)
	}

	src, srcFormat, err := codec.Decode(bytes.NewReader(sourceBytes))
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w: %w", ErrUndecodableSource, err)
	}
	defer src.Release()

	logger := p.logger.With(zap.String("job_id", req.JobID))
	logger.Debug("source decoded",
		zap.String("format", string(srcFormat)),
		zap.Int("width", src.Width()),
		zap.Int("height", src.Height()),
		zap.Bool("alpha", src.HasAlpha()),
	)

	out := Result{
		SourceFormat: string(srcFormat),
		SourceBytes:  len(sourceBytes),
		SourceWidth:  src.Width(),
		SourceHeight: src.Height(),
		Outputs:      make([]Output, 0, len(req.Renditions)),
	}
	for _, rendition := range req.Renditions {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		written, err := p.render(ctx, req, src, srcFormat, rendition, logger)
		if err != nil {
			return Result{}, fmt.Errorf("rendition %s: %w", rendition.ID, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

func (p *Processor) render(ctx context.Context, req Request, src *raster.Buffer, srcFormat codec.Format, rendition domain.Rendition, logger *zap.Logger) (Output, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.render")
	span.SetAttributes(
		attribute.String("rendition.id", rendition.ID),
		attribute.Int("rendition.operations", len(rendition.Operations)),
	)
	defer span.End()

	format := srcFormat
	if strings.TrimSpace(rendition.Format) != "" {
		parsed, err := codec.ParseFormat(rendition.Format)
		if err != nil {
			return Output{}, err
		}
		format = parsed
	}

	buf, err := src.Clone()
	if err != nil {
		return Output{}, fmt.Errorf("copy source: %w", err)
	}

	opts := []imaging.Option{
		imaging.WithFilter(p.filter),
		imaging.WithLogger(logger.With(zap.String("rendition", rendition.ID))),
	}
	if p.lenient {
		opts = append(opts, imaging.WithLenientGeometry())
	}
	tr, err := imaging.New(buf, opts...)
	if err != nil {
		buf.Release()
		return Output{}, err
	}
	defer tr.Release()

	for i, op := range rendition.Operations {
		if err := Apply(tr, op); err != nil {
			return Output{}, fmt.Errorf("transform stage operations[%d] action=%s: %w", i, op.Action, err)
		}
	}

	data, err := codec.EncodeBytes(tr.Buffer(), format, codec.Options{Quality: rendition.Quality})
	if err != nil {
		return Output{}, fmt.Errorf("encode stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, req, rendition, data, format, tr.Width(), tr.Height())
	if err != nil {
		return Output{}, fmt.Errorf("emit stage: %w", err)
	}

	logger.Debug("rendition emitted",
		zap.String("rendition", rendition.ID),
		zap.String("path", written.Path),
		zap.Int("bytes", written.Bytes),
	)
	return written, nil
}

// IsPermanent reports whether err will recur on retry.
func IsPermanent(err error) bool {
	for _, target := range []error{
		ErrUnsupportedSourceType,
		ErrUndecodableSource,
		ErrEmptyRequest,
		ErrInvalidOperation,
		imaging.ErrInvalidGeometry,
		imaging.ErrUnsupportedTransform,
		codec.ErrUnsupportedFormat,
		raster.ErrBufferConstruction,
		storage.ErrObjectTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, rendition domain.Rendition, data []byte, format codec.Format, width, height int) (Output, error) {
	if strings.TrimSpace(rendition.ID) == "" {
		return Output{}, errors.New("rendition id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputName(rendition, format))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		RenditionID: rendition.ID,
		Format:      string(format),
		Path:        fullPath,
		Bytes:       len(data),
		Width:       width,
		Height:      height,
	}, nil
}

func outputName(rendition domain.Rendition, format codec.Format) string {
	return sanitizePathToken(rendition.ID) + "." + format.Extension()
}

// sanitizePathToken maps in to [A-Za-z0-9_-]+ so it is safe as a path segment.
func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, in)
}
