package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
	now    func() time.Time
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleExpiry enqueues an idle check for the session to run after delay.
func (c *Client) ScheduleExpiry(ctx context.Context, sessionID, userID string, delay time.Duration) error {
	task, err := NewSessionExpireTask(SessionExpirePayload{
		SessionID:   sessionID,
		UserID:      userID,
		ScheduledAt: c.now(),
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
	)
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
