package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
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

// EnqueueProcessVideo schedules one pipeline run. Jobs are never retried
// automatically, so MaxRetry is zero; the timeout is generous because
// transcription of long inputs is slow.
func (c *Client) EnqueueProcessVideo(ctx context.Context, payload ProcessVideoPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessVideoTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
