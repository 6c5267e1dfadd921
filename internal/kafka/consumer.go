package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil when the message was processed. What happens to the
// offset on error is decided by the consumer's ErrorPolicy.
type Handler func(ctx context.Context, m kafka.Message) error

type ErrorPolicy int

const (
	// SkipOnError logs the failure and commits: the message counts as handled.
	SkipOnError ErrorPolicy = iota
	// HaltOnError stops the consumer without committing the failed message,
	// so it is delivered again once the consumer restarts.
	HaltOnError
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	topic   string
	workers int
	policy  ErrorPolicy
	log     *slog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, policy ErrorPolicy, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, topic, workers, policy, log)
}

func newConsumer(r reader, topic string, workers int, policy ErrorPolicy, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, topic: topic, workers: workers, policy: policy, log: log.With("topic", topic)}
}

// workerFor pins a partition to one worker so messages of a partition (and
// therefore of one order key) are handled strictly in delivery order.
func (c *Consumer) workerFor(m kafka.Message) int {
	p := m.Partition
	if p < 0 {
		p = -p
	}
	return p % c.workers
}

// Start blocks until ctx is cancelled (returns nil) or, under HaltOnError,
// until a handler fails (returns that error).
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		fatalOnce sync.Once
		fatal     error
	)
	halt := func(err error) {
		fatalOnce.Do(func() {
			fatal = err
			stop()
		})
	}

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if runCtx.Err() != nil {
					// left uncommitted, redelivered after restart
					continue
				}
				c.process(runCtx, h, m, halt)
			}
		}(queues[i])
	}

	shutdown := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(runCtx)
		if err != nil {
			shutdown()
			if fatal != nil {
				return fatal
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[c.workerFor(m)] <- m:
		case <-runCtx.Done():
			shutdown()
			return fatal
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message, halt func(error)) {
	if err := h(ctx, m); err != nil {
		metrics.Consumed.WithLabelValues(c.topic, "error").Inc()
		c.log.Error("handler failed",
			"partition", m.Partition, "offset", m.Offset, "key", string(m.Key), "err", err)
		if c.policy == HaltOnError {
			halt(&HandlerError{Partition: m.Partition, Offset: m.Offset, Err: err})
			return
		}
	} else {
		metrics.Consumed.WithLabelValues(c.topic, "ok").Inc()
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("commit failed", "partition", m.Partition, "offset", m.Offset, "err", err)
	}
}

// HandlerError is returned by Start when a HaltOnError consumer stops.
type HandlerError struct {
	Partition int
	Offset    int64
	Err       error
}

func (e *HandlerError) Error() string {
	return "kafka handler failed: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }
