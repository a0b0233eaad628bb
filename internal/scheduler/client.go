package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/webhook"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/kvstore"

	"github.com/hibiken/asynq"
)

const (
	leadCreatedMaxRetry     = 10
	webhookDispatchMaxRetry = 3
	// A dispatch task waits through the whole retry schedule of its slowest webhook.
	webhookDispatchTimeout = 15 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueLeadCreated schedules assignment of a freshly captured lead.
func (c *Client) EnqueueLeadCreated(ctx context.Context, evt events.LeadCreated) error {
	task, err := NewLeadCreatedTask(evt)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(leadCreatedMaxRetry))
	return err
}

// EnqueueWebhookDispatch schedules delivery of env to the subscribed webhooks.
func (c *Client) EnqueueWebhookDispatch(ctx context.Context, env webhook.Envelope) error {
	task, err := NewWebhookDispatchTask(env)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(webhookDispatchMaxRetry),
		asynq.Timeout(webhookDispatchTimeout),
	)
	return err
}

func redisClientOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, error) {
	if cfg.GetRedisURL() == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis url not configured")
	}

	opt, err := kvstore.ParseRedisOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

func queueName(cfg config.SchedulerConfig) string {
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

var (
	_ webhook.Enqueuer = (*Client)(nil)
)
