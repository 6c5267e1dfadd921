package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/segmentio/kafka-go"
)

var (
	ErrInboxFull      = errors.New("producer inbox full")
	ErrProducerClosed = errors.New("producer closed")
)

// Producer is fire-and-forget: Publish only enqueues, delivery errors are
// logged by the writer loop and never reach the caller.
type Producer struct {
	w       *kafka.Writer
	topic   string
	log     *slog.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, log *slog.Logger) *Producer {
	p := &Producer{
		topic:   topic,
		log:     log.With("topic", topic),
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.completion,
	}
	return p
}

func (p *Producer) completion(msgs []kafka.Message, err error) {
	if err != nil {
		metrics.Published.WithLabelValues(p.topic, "error").Add(float64(len(msgs)))
		for _, m := range msgs {
			p.log.Error("publish failed", "key", string(m.Key), "err", err)
		}
		return
	}
	metrics.Published.WithLabelValues(p.topic, "ok").Add(float64(len(msgs)))
}

// Start runs the writer loop until Close is called. Messages still buffered
// at that point are flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.WithoutCancel(ctx), m); err != nil {
				p.log.Error("enqueue to writer failed", "key", string(m.Key), "err", err)
			}
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("writer close", "err", err)
		}
	}()
}

func (p *Producer) Publish(_ context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		metrics.Published.WithLabelValues(p.topic, "dropped").Inc()
		return ErrInboxFull
	}
}

// Close stops accepting messages; the loop flushes the rest and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the writer loop is done.
func (p *Producer) WaitClosed() { <-p.closeCh }

// SyncProducer blocks until the broker acknowledged the write.
type SyncProducer struct {
	w          *kafka.Writer
	topic      string
	ackTimeout time.Duration
}

func NewSyncProducer(brokers []string, topic string, ackTimeout time.Duration) *SyncProducer {
	return &SyncProducer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: ackTimeout,
		},
		topic:      topic,
		ackTimeout: ackTimeout,
	}
}

func (p *SyncProducer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	if p.ackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ackTimeout)
		defer cancel()
	}
	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
	if err != nil {
		metrics.Published.WithLabelValues(p.topic, "error").Inc()
		return err
	}
	metrics.Published.WithLabelValues(p.topic, "ok").Inc()
	return nil
}

func (p *SyncProducer) Close() error { return p.w.Close() }
