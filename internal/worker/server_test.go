package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/webinv/pixelshape/internal/domain"
	"github.com/webinv/pixelshape/internal/pipeline"
	"github.com/webinv/pixelshape/internal/queue"
	"github.com/webinv/pixelshape/internal/store"
	"github.com/webinv/pixelshape/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, processors map[string]processor, sender webhookSender) (*Server, *store.MemoryJobStore) {
	t.Helper()

	jobStore := store.NewMemoryJobStore()
	return &Server{
		logger:        zaptest.NewLogger(t),
		sem:           make(chan struct{}, 1),
		processors:    processors,
		webhookClient: sender,
		jobStore:      jobStore,
		usageStore:    jobStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelshape/worker-test"),
	}, jobStore
}

func seedJob(t *testing.T, s store.JobStore, job domain.Job) {
	t.Helper()
	job.Status = domain.JobStatusQueued
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func processTask(t *testing.T, job domain.Job) *asynq.Task {
	t.Helper()
	task, err := queue.NewProcessImageTask(queue.PayloadFromJob(job, time.Now().UTC()))
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func writeSourcePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, "source.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestHandleProcessImageSucceeds(t *testing.T) {
	tmp := t.TempDir()
	local, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	sender := &captureWebhook{}
	s, jobStore := newTestServer(t, map[string]processor{domain.SourceTypeLocalFile: local}, sender)

	job := domain.Job{
		ID:         "job-ok",
		UserID:     "user-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.example/pixelshape",
		ObjectKey:  writeSourcePNG(t, tmp, 120, 90),
		Renditions: []domain.Rendition{
			{
				ID:     "square",
				Format: "png",
				Operations: []domain.Operation{
					{Action: domain.ActionResizeFit, Width: 30, Height: 30},
				},
			},
			{
				ID:     "turned",
				Format: "jpeg",
				Operations: []domain.Operation{
					{Action: domain.ActionRotate, Rotation: "cw_90"},
					{Action: domain.ActionResizeToHeight, Height: 60},
				},
			},
		},
	}
	seedJob(t, jobStore, job)

	if err := s.handleProcessImage(context.Background(), processTask(t, job)); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	got, _, _ := jobStore.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}

	usage := jobStore.UsageLogs()
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	// 30x30 plus a 90x120 rotation scaled to 45x60.
	if usage[0].PixelsProcessed != 30*30+45*60 || usage[0].Renditions != 2 || usage[0].UserID != "user-1" {
		t.Fatalf("unexpected usage %+v", usage[0])
	}

	if sender.event != webhook.EventJobCompleted {
		t.Fatalf("expected job.completed webhook, got %q", sender.event)
	}
	if testutil.ToFloat64(s.metrics.operationsTotal.WithLabelValues(domain.ActionRotate)) != 1 {
		t.Fatal("expected rotate operation to be counted")
	}
	if testutil.ToFloat64(s.metrics.renditionsTotal.WithLabelValues("jpeg")) != 1 {
		t.Fatal("expected jpeg rendition to be counted")
	}
	if testutil.ToFloat64(s.metrics.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusSucceeded)) != 1 {
		t.Fatal("expected succeeded job to be counted")
	}
}

func TestHandleProcessImagePermanentFailureSkipsRetry(t *testing.T) {
	tmp := t.TempDir()
	local, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	sender := &captureWebhook{}
	s, jobStore := newTestServer(t, map[string]processor{domain.SourceTypeLocalFile: local}, sender)

	job := domain.Job{
		ID:         "job-upscale",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.example/pixelshape",
		ObjectKey:  writeSourcePNG(t, tmp, 40, 40),
		Renditions: []domain.Rendition{
			{ID: "big", Operations: []domain.Operation{{Action: domain.ActionResize, Width: 80, Height: 80}}},
		},
	}
	seedJob(t, jobStore, job)

	err = s.handleProcessImage(context.Background(), processTask(t, job))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	got, _, _ := jobStore.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if sender.event != webhook.EventJobFailed {
		t.Fatalf("expected job.failed webhook, got %q", sender.event)
	}
	if len(jobStore.UsageLogs()) != 0 {
		t.Fatal("failed jobs must not record usage")
	}
	if testutil.ToFloat64(s.metrics.failuresTotal.WithLabelValues("permanent")) != 1 {
		t.Fatal("expected permanent failure to be counted")
	}
}

func TestHandleProcessImageTransientFailureIsRetryable(t *testing.T) {
	s, jobStore := newTestServer(t, map[string]processor{
		domain.SourceTypeS3Presigned: failingProcessor{err: errors.New("connection reset")},
	}, nil)

	job := domain.Job{
		ID:         "job-flaky",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-flaky/source",
		Renditions: []domain.Rendition{{ID: "thumb"}},
	}
	seedJob(t, jobStore, job)

	err := s.handleProcessImage(context.Background(), processTask(t, job))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if testutil.ToFloat64(s.metrics.failuresTotal.WithLabelValues("transient")) != 1 {
		t.Fatal("expected transient failure to be counted")
	}
}

func TestHandleProcessImageRejectsBadTasks(t *testing.T) {
	s, _ := newTestServer(t, map[string]processor{}, nil)

	err := s.handleProcessImage(context.Background(), asynq.NewTask(queue.TypeProcessImage, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}

	job := domain.Job{ID: "job-s3", SourceType: domain.SourceTypeS3Presigned, Renditions: []domain.Rendition{{ID: "thumb"}}}
	err = s.handleProcessImage(context.Background(), processTask(t, job))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry without an object-store processor, got %v", err)
	}
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	s, jobStore := newTestServer(t, nil, nil)
	seedJob(t, jobStore, domain.Job{ID: "job-1", UserID: "user-1", SourceType: domain.SourceTypeLocalFile})

	s.recordUsage(context.Background(), zap.NewNop(), queue.ProcessImagePayload{JobID: "job-1"}, pipeline.Result{
		SourceBytes: 1_000,
		Outputs: []pipeline.Output{
			{Width: 10, Height: 10, Bytes: 300},
			{Width: 20, Height: 20, Bytes: 400},
		},
	}, 250*time.Millisecond)

	logs := jobStore.UsageLogs()
	if len(logs) != 1 {
		t.Fatalf("expected usage log to be written, got %d", len(logs))
	}
	usage := logs[0]
	if usage.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usage.UserID)
	}
	if usage.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usage.PixelsProcessed)
	}
	if usage.BytesSaved != 300 {
		t.Fatalf("expected bytes_saved=300, got %d", usage.BytesSaved)
	}
	if usage.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usage.ComputeTimeMS)
	}
}

func TestRecordUsageClampsNegativeBytesSaved(t *testing.T) {
	s, jobStore := newTestServer(t, nil, nil)

	s.recordUsage(context.Background(), zap.NewNop(), queue.ProcessImagePayload{JobID: "job-2"}, pipeline.Result{
		SourceBytes: 100,
		Outputs: []pipeline.Output{
			{Width: 5, Height: 5, Bytes: 200},
		},
	}, 0)

	usage := jobStore.UsageLogs()[0]
	if usage.BytesSaved != 0 {
		t.Fatalf("expected bytes_saved=0, got %d", usage.BytesSaved)
	}
	if usage.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usage.ComputeTimeMS)
	}
	if usage.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %q", usage.UserID)
	}
}

type captureWebhook struct {
	mu      sync.Mutex
	event   string
	payload any
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.event = event
	c.payload = payload
	return nil
}

type failingProcessor struct {
	err error
}

func (p failingProcessor) Process(context.Context, pipeline.Request) (pipeline.Result, error) {
	return pipeline.Result{}, p.err
}
