package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/logging"
)

func TestProducerInboxFull(t *testing.T) {
	// not started, so nothing drains the inbox
	p := NewProducer([]string{"127.0.0.1:1"}, "orders.events", 1, logging.Discard())
	defer p.Close()

	if err := p.Publish(context.Background(), []byte("1"), []byte("a")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := p.Publish(context.Background(), []byte("2"), []byte("b")); !errors.Is(err, ErrInboxFull) {
		t.Fatalf("second publish = %v, want ErrInboxFull", err)
	}
}

func TestProducerClosed(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "orders.events", 4, logging.Discard())
	p.Close()
	p.Close()

	if err := p.Publish(context.Background(), []byte("1"), []byte("a")); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("publish after close = %v, want ErrProducerClosed", err)
	}
}

func TestSyncProducerAckTimeout(t *testing.T) {
	// nothing listens on port 1, so the write can never be acknowledged
	p := NewSyncProducer([]string{"127.0.0.1:1"}, "payments.events", 200*time.Millisecond)
	defer p.Close()

	start := time.Now()
	err := p.Publish(context.Background(), []byte("5"), []byte("{}"))
	if err == nil {
		t.Fatal("publish without a broker must fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("publish took %v, ack timeout not applied", elapsed)
	}
}
