package messaging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendora/settlement-service/internal/contracts"
)

func testConsumer() *Consumer {
	return &Consumer{
		queue:  "settlement.notifications",
		tag:    "settlement.notifications.consumer",
		logger: slog.New(slog.DiscardHandler),
	}
}

func TestConsumerRunPassesDeliveriesWithType(t *testing.T) {
	msgs := make(chan amqp091.Delivery, 2)
	msgs <- amqp091.Delivery{Type: contracts.EventPaymentConfirmed, Body: []byte(`{}`)}
	msgs <- amqp091.Delivery{Type: contracts.EventEscrowResolved, Body: []byte(`{}`)}
	close(msgs)

	var seen []string
	err := testConsumer().run(context.Background(), msgs, func(_ context.Context, d amqp091.Delivery) {
		seen = append(seen, d.Type)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{contracts.EventPaymentConfirmed, contracts.EventEscrowResolved}, seen)
}

func TestConsumerRunStopsWhenStreamCloses(t *testing.T) {
	msgs := make(chan amqp091.Delivery)
	close(msgs)

	err := testConsumer().run(context.Background(), msgs, func(context.Context, amqp091.Delivery) {
		t.Fatal("handler must not run on a closed stream")
	})
	assert.NoError(t, err)
}

func TestConsumerRunStopsOnContextCancel(t *testing.T) {
	msgs := make(chan amqp091.Delivery)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- testConsumer().run(ctx, msgs, func(context.Context, amqp091.Delivery) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
