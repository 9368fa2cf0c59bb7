package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry = 5
	defaultTimeout  = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueProcessImage schedules a job. Enqueueing a payload whose task id is
// already known to asynq fails with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, c.options(payload)...)
}

func (c *Client) options(payload ProcessImagePayload) []asynq.Option {
	taskID := payload.TaskID
	if taskID == "" {
		taskID = payload.JobID
	}
	return []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTimeout),
		asynq.Retention(24 * time.Hour),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
