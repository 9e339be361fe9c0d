package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDedupPerInvoice(t *testing.T) {
	client := newTestRedis(t)
	enq := Enqueuer{R: client, Prefix: "kasir"}
	ctx := context.Background()

	payload := StockRefresh{
		InvoiceID: "inv-1",
		Items:     []StockAdjustment{{ProductID: "p-1", Quantity: decimal.NewFromInt(2)}},
	}
	require.NoError(t, enq.EnqueueStockRefresh(ctx, payload))
	require.NoError(t, enq.EnqueueStockRefresh(ctx, payload))

	count, err := client.ZCard(ctx, "kasir:queue:"+KindStockRefresh).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "duplicate invoice must not enqueue twice")
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	client := newTestRedis(t)
	enq := Enqueuer{R: client}
	err := enq.Enqueue(context.Background(), Task{Kind: "catalog-reindex", Payload: []byte(`{}`)})
	require.Error(t, err, "only the fixed refresh kinds may be queued")
}

func TestWorkerProcessesStockRefresh(t *testing.T) {
	client := newTestRedis(t)
	enq := Enqueuer{R: client}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan StockRefresh, 1)
	worker := Worker{
		R:    client,
		Kind: KindStockRefresh,
		Handler: func(_ context.Context, task Task) error {
			var payload StockRefresh
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return err
			}
			got <- payload
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.NoError(t, enq.EnqueueStockRefresh(ctx, StockRefresh{
		InvoiceID: "inv-2",
		Items:     []StockAdjustment{{ProductID: "p-9", Quantity: decimal.NewFromInt(1)}},
	}))

	select {
	case payload := <-got:
		require.Equal(t, "inv-2", payload.InvoiceID)
		require.Len(t, payload.Items, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not process the task in time")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerMovesExhaustedTaskToDLQ(t *testing.T) {
	client := newTestRedis(t)
	enq := Enqueuer{R: client}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan struct{}, 4)
	worker := Worker{
		R:         client,
		Kind:      KindCustomerStatsRefresh,
		RetryBase: time.Millisecond,
		Handler: func(context.Context, Task) error {
			attempts <- struct{}{}
			return context.DeadlineExceeded
		},
	}
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.NoError(t, enq.Enqueue(ctx, Task{
		Kind:        KindCustomerStatsRefresh,
		Payload:     []byte(`{"invoiceId":"inv-3"}`),
		MaxAttempts: 2,
	}))

	deadline := time.After(3 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-attempts:
		case <-deadline:
			t.Fatal("expected retries before dead-lettering")
		}
	}

	require.Eventually(t, func() bool {
		n, err := client.LLen(context.Background(), "queue:"+KindCustomerStatsRefresh+":dlq").Result()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond, "exhausted task must land in the DLQ")

	cancel()
	require.NoError(t, <-done)
}
