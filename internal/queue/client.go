package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const DefaultTaskTimeout = 3 * time.Minute

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: max(0, maxRetry),
	}
}

func (c *Client) EnqueueProcessImage(ctx context.Context, payload ProcessImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(DefaultTaskTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
