package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := New(watermill.NopLogger{})
	defer b.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	messages, err := b.Subscribe(ctx, TopicMessages)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.Publish(TopicMessages, []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-messages:
		if string(msg.Payload) != `{"hello":"world"}` {
			t.Fatalf("unexpected payload: %s", msg.Payload)
		}
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}

func TestRunDispatchesToHandler(t *testing.T) {
	b := New(watermill.NopLogger{})
	defer b.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 1)
	go func() {
		_ = Run(ctx, b, TopicEdits, func(_ context.Context, msg *message.Message) error {
			done <- string(msg.Payload)
			return nil
		})
	}()

	// give the subscriber a moment to attach before publishing
	time.Sleep(20 * time.Millisecond)
	if err := b.Publish(TopicEdits, []byte("task-payload")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case payload := <-done:
		if payload != "task-payload" {
			t.Fatalf("unexpected payload: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler to run")
	}
}
