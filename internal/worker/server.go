package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/webinv/pixelshape/internal/config"
	"github.com/webinv/pixelshape/internal/domain"
	"github.com/webinv/pixelshape/internal/pipeline"
	"github.com/webinv/pixelshape/internal/queue"
	"github.com/webinv/pixelshape/internal/store"
	"github.com/webinv/pixelshape/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Server struct {
	logger        *zap.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]processor
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators a Server is built from. Storage may be nil, in
// which case only local_file jobs can run.
type Deps struct {
	Storage    pipeline.ObjectStorage
	Webhook    webhookSender
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	imagingCfg config.ImagingConfig,
	deps Deps,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker")

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithFilter(imagingCfg.Filter),
		pipeline.WithLenientGeometry(imagingCfg.Lenient()),
	}

	processors := make(map[string]processor, 2)
	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	processors[domain.SourceTypeLocalFile] = localProcessor

	if deps.Storage != nil {
		objectProcessor, err := pipeline.NewObjectStoreProcessor(deps.Storage, pipeline.DefaultOutputPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		processors[domain.SourceTypeS3Presigned] = objectProcessor
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	asynqLogger := logger.Named("asynq")
	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger.Sugar(),
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					asynqLogger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processors:    processors,
		webhookClient: deps.Webhook,
		jobStore:      deps.JobStore,
		usageStore:    usageStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelshape/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.renditions", len(payload.Renditions)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With(zap.String("job_id", payload.JobID), zap.String("source_type", payload.SourceType))
	logger.Info("processing job",
		zap.Int("renditions", len(payload.Renditions)),
		zap.String("object_key", payload.ObjectKey),
	)

	s.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusProcessing)

	proc, ok := s.processors[payload.SourceType]
	if !ok {
		err = fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	} else {
		var result pipeline.Result
		result, err = proc.Process(ctx, pipeline.Request{
			JobID:      payload.JobID,
			SourceType: payload.SourceType,
			ObjectKey:  payload.ObjectKey,
			Renditions: payload.Renditions,
		})
		if err == nil {
			outcome = domain.JobStatusSucceeded
			s.complete(ctx, logger, payload, result, time.Since(startedAt))
			span.SetStatus(codes.Ok, "processed")
			return nil
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "pipeline failed")
	return s.fail(ctx, logger, payload, err)
}

func (s *Server) complete(ctx context.Context, logger *zap.Logger, payload queue.ProcessImagePayload, result pipeline.Result, elapsed time.Duration) {
	logger.Info("job processed",
		zap.Int("outputs", len(result.Outputs)),
		zap.Duration("elapsed", elapsed),
	)
	s.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusSucceeded)

	for _, rendition := range payload.Renditions {
		for _, op := range rendition.Operations {
			s.metrics.operationsTotal.WithLabelValues(op.Action).Inc()
		}
	}
	for _, output := range result.Outputs {
		s.metrics.renditionsTotal.WithLabelValues(output.Format).Inc()
	}
	s.recordUsage(ctx, logger, payload, result, elapsed)

	s.dispatchWebhook(ctx, logger, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"source": map[string]any{
			"format": result.SourceFormat,
			"bytes":  result.SourceBytes,
			"width":  result.SourceWidth,
			"height": result.SourceHeight,
		},
		"outputs": result.Outputs,
	})
}

// fail records a failed attempt. Permanent errors and the last retry mark
// the job failed and notify; other failures return the job to the queue.
func (s *Server) fail(ctx context.Context, logger *zap.Logger, payload queue.ProcessImagePayload, err error) error {
	permanent := pipeline.IsPermanent(err)
	retried, hasRetry := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	final := permanent || !hasRetry || retried >= maxRetry

	reason := "transient"
	if permanent {
		reason = "permanent"
	}
	s.metrics.failuresTotal.WithLabelValues(reason).Inc()

	if !final {
		logger.Warn("job attempt failed, will retry", zap.Int("retry", retried), zap.Error(err))
		s.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusQueued)
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Error("job failed", zap.Bool("permanent", permanent), zap.Error(err))
	s.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusFailed)
	s.dispatchWebhook(ctx, logger, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	})

	if permanent {
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("run pipeline: %w", err)
}

func (s *Server) updateJobStatus(ctx context.Context, logger *zap.Logger, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		logger.Warn("job status update failed", zap.String("status", status), zap.Error(err))
	}
}

// dispatchWebhook delivers a notification. Delivery failures are logged and
// counted but never fail the job: the outputs already exist.
func (s *Server) dispatchWebhook(ctx context.Context, logger *zap.Logger, payload queue.ProcessImagePayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		if !errors.Is(err, context.Canceled) {
			logger.Warn("webhook delivery failed", zap.String("event", event), zap.Error(err))
		}
	}
}

func (s *Server) recordUsage(ctx context.Context, logger *zap.Logger, payload queue.ProcessImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			logger.Warn("usage lookup failed", zap.Error(err))
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	var (
		pixelsProcessed  int64
		totalOutputBytes int
	)
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width) * int64(output.Height)
		totalOutputBytes += output.Bytes
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Renditions:      len(result.Outputs),
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      max(0, int64(result.SourceBytes-totalOutputBytes)),
		ComputeTimeMS:   max(1, computeDuration.Milliseconds()),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		logger.Warn("usage log write failed", zap.Error(err))
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
