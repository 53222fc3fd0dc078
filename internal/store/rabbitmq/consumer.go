package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/webchat/internal/logger"
)

// Handler processes one job. lastAttempt is true on the final delivery.
type Handler func(ctx context.Context, jobID string, lastAttempt bool) error

type retrier interface {
	publishRetry(ctx context.Context, jobID string, attempt int) error
}

type ConsumerOptions struct {
	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
	// OnDeadLetter is called when a failed job is dead-lettered before its last
	// attempt because the retry could not be scheduled.
	OnDeadLetter func(ctx context.Context, jobID string, cause error)
}

type Consumer struct {
	pub   *Publisher
	queue string
	opts  ConsumerOptions
	log   *logger.Logger
}

func NewConsumer(url, queue string, opts ConsumerOptions, log *logger.Logger) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	pub, err := NewPublisher(url, queue, opts.RetryDelay)
	if err != nil {
		return nil, err
	}
	return &Consumer{pub: pub, queue: queue, opts: opts, log: log.With("component", "consumer", "queue", queue)}, nil
}

func (c *Consumer) Close() error { return c.pub.Close() }

// Run consumes until ctx is done, feeding deliveries to a fixed worker pool.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	ch, err := c.pub.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// strict concurrency control
	if err := ch.Qos(c.opts.Concurrency, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info("worker started", "concurrency", c.opts.Concurrency, "max_attempts", c.opts.MaxAttempts)

	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h, c.pub)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				// unacked; the broker redelivers it
				return nil
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h Handler, r retrier) {
	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		c.log.Warn("bad message", "worker", workerID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	attempt := attemptOf(d.Headers)
	last := attempt >= c.opts.MaxAttempts
	start := time.Now()

	err := h(ctx, m.JobID, last)
	if err == nil {
		if err := d.Ack(false); err != nil {
			c.log.Error("ack failed", "worker", workerID, "job_id", m.JobID, "error", err)
		}
		return
	}

	c.log.Warn("job failed", "worker", workerID, "job_id", m.JobID, "attempt", attempt,
		"cost", time.Since(start).String(), "error", err)
	if last {
		// dead-lettered to the DLQ
		_ = d.Nack(false, false)
		return
	}
	if perr := r.publishRetry(context.WithoutCancel(ctx), m.JobID, attempt+1); perr != nil {
		c.log.Error("retry publish failed", "job_id", m.JobID, "error", perr)
		if c.opts.OnDeadLetter != nil {
			c.opts.OnDeadLetter(context.WithoutCancel(ctx), m.JobID, perr)
		}
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case int:
		return max(v, 1)
	}
	return 1
}
