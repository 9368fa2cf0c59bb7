package store

import (
	"context"
	"errors"
	"strings"

	"github.com/webinv/pixelshape/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store persists both jobs and their usage records.
type Store interface {
	JobStore
	UsageStore
	Close() error
}

// Open returns a Postgres store for a non-empty DSN and a memory store
// otherwise.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
