package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/metrics"
)

const retryHeader = "x-retry-count"

// Executor runs one job.
type Executor interface {
	Execute(ctx context.Context, msg chat.JobMessage) error
}

type ConsumerConfig struct {
	Queue       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Concurrency > 50 {
		c.Concurrency = 50
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	return c
}

// Consumer feeds queued jobs to a bounded worker pool. A job whose execution
// returns an error goes through the retry queue until MaxRetries, then to the
// dead-letter queue. Undecodable messages are dead-lettered at once, and a job
// failing because the worker is shutting down is requeued.
type Consumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	cfg     ConsumerConfig
	exec    Executor
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewConsumer(url string, cfg ConsumerConfig, exec Executor, log zerolog.Logger, m *metrics.Metrics) (*Consumer, error) {
	cfg = cfg.withDefaults()
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declare(ch, cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	//  strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{
		conn:    conn,
		ch:      ch,
		cfg:     cfg,
		exec:    exec,
		log:     log.With().Str("component", "consumer").Str("queue", cfg.Queue).Logger(),
		metrics: m,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is cancelled, then waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info().Int("concurrency", c.cfg.Concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.cfg.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	log := c.log.With().Int("worker", workerID).Logger()

	msg, err := decode(d.Body)
	if err != nil {
		log.Error().Err(err).Msg("bad message")
		c.metrics.RecordConsumed("dead")
		_ = d.Nack(false, false)
		return
	}
	log = log.With().Str("job_id", msg.JobID).Logger()

	start := time.Now()
	err = c.exec.Execute(ctx, msg)
	if err == nil {
		c.metrics.RecordConsumed("ack")
		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}
		return
	}

	if ctx.Err() != nil {
		// interrupted by shutdown; the next worker replays it
		log.Warn().Err(err).Msg("job interrupted, requeued")
		c.metrics.RecordConsumed("requeue")
		_ = d.Nack(false, true)
		return
	}

	attempt := retryCount(d.Headers)
	log.Warn().Err(err).Int("attempt", attempt).Dur("took", time.Since(start)).Msg("job failed")
	if attempt >= c.cfg.MaxRetries {
		c.metrics.RecordConsumed("dead")
		_ = d.Nack(false, false)
		return
	}
	if err := c.retry(ctx, d, attempt+1); err != nil {
		log.Error().Err(err).Msg("schedule retry")
		c.metrics.RecordConsumed("dead")
		_ = d.Nack(false, false)
		return
	}
	c.metrics.RecordConsumed("retry")
	_ = d.Ack(false)
}

// retry republishes d to the retry queue; it comes back after RetryDelay.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", c.cfg.Queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(c.cfg.RetryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{retryHeader: int32(attempt)},
	})
}

func decode(body []byte) (chat.JobMessage, error) {
	var m chat.JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return m, err
	}
	if m.JobID == "" {
		return m, errors.New("missing job_id")
	}
	return m, nil
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
