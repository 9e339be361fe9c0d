package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// The refresh queues live in Redis under a fixed key layout per kind:
//
//	[<prefix>:]queue:<kind>             pending ZSET scored by availability time
//	[<prefix>:]queue:<kind>:processing  in-flight ZSET scored by visibility deadline
//	[<prefix>:]queue:<kind>:dlq         list of exhausted tasks
//	[<prefix>:]queue:dedup:<kind>:<key> enqueue deduplication marker

// Task is one queued refresh delivery.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
}

// envelope is the wire form of a task inside the Redis sets.
type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

type keyset struct {
	pending    string
	processing string
	dlq        string
	dedup      string // completed with the idempotency key
}

func keysFor(prefix, kind string) keyset {
	join := func(s string) string {
		if prefix == "" {
			return s
		}
		return prefix + ":" + s
	}
	return keyset{
		pending:    join("queue:" + kind),
		processing: join("queue:" + kind + ":processing"),
		dlq:        join("queue:" + kind + ":dlq"),
		dedup:      join("queue:dedup:" + kind + ":"),
	}
}

// knownKind rejects anything outside the closed set of refresh kinds; the
// register dispatches exactly these two.
func knownKind(kind string) bool {
	switch kind {
	case KindStockRefresh, KindCustomerStatsRefresh:
		return true
	}
	return false
}

// Enqueuer publishes refresh tasks after a checkout lands.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue inserts the task into its kind's queue. A task with an idempotency
// key is enqueued at most once within the deduplication window, so a retried
// checkout never doubles the refresh.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if !knownKind(t.Kind) {
		return fmt.Errorf("queue: unknown refresh kind %q", t.Kind)
	}
	env := envelope{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = 10
	}

	ks := keysFor(e.Prefix, t.Kind)
	if env.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, ks.dedup+env.Key, "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			// already queued for this invoice
			return nil
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, ks.pending, redis.Z{Score: float64(env.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	countEnqueued(t.Kind)
	return nil
}

// Worker drains one refresh kind and hands each task to its Handler.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
}

// Run consumes the kind's queue until the context is cancelled. In-flight
// deliveries are parked in the processing set and swept back onto the queue
// when their visibility deadline passes, so a crashed worker loses nothing.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if !knownKind(w.Kind) {
		return fmt.Errorf("queue: unknown refresh kind %q", w.Kind)
	}

	ks := keysFor(w.Prefix, w.Kind)
	slots := w.Concurrency
	if slots <= 0 {
		slots = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	sem := make(chan struct{}, slots)
	var wg sync.WaitGroup
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-sweep.C:
			if err := w.requeueExpired(ctx, ks); err != nil {
				return err
			}
		default:
		}

		env, ok, err := w.next(ctx, ks)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		env.Attempt++
		raw, err := json.Marshal(env)
		if err != nil {
			continue
		}
		claim := string(raw)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, ks.processing, redis.Z{Score: float64(deadline), Member: claim}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(claim string, env envelope) {
			defer wg.Done()
			defer func() { <-sem }()
			jobCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			task := Task{Kind: env.Kind, Payload: env.Payload, IdempotencyKey: env.Key}
			if err := w.Handler(jobCtx, task); err != nil {
				w.retryOrBury(jobCtx, ks, claim, env, retryBase)
				return
			}
			w.ack(jobCtx, ks, claim, env)
		}(claim, env)
	}
}

// next pops the earliest pending envelope. Envelopes scheduled for the future
// are pushed back and the worker naps until they come due.
func (w Worker) next(ctx context.Context, ks keyset) (envelope, bool, error) {
	res, err := w.R.ZPopMin(ctx, ks.pending, 1).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return envelope{}, false, nil
		}
		if errors.Is(err, redis.Nil) {
			time.Sleep(100 * time.Millisecond)
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	if len(res) == 0 {
		time.Sleep(100 * time.Millisecond)
		return envelope{}, false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return envelope{}, false, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(member), &env); err != nil {
		// poison entry, drop it
		return envelope{}, false, nil
	}
	now := time.Now().UnixNano()
	if env.AvailableAt > now {
		w.R.ZAdd(ctx, ks.pending, redis.Z{Score: float64(env.AvailableAt), Member: member})
		nap := time.Duration(env.AvailableAt - now)
		if nap > time.Second {
			nap = time.Second
		}
		time.Sleep(nap)
		return envelope{}, false, nil
	}
	return env, true, nil
}

// retryOrBury reschedules a failed delivery with backoff, or moves it to the
// dead letter list once its attempts are spent. A buried task releases its
// dedup marker so the same invoice can be refreshed again by hand.
func (w Worker) retryOrBury(ctx context.Context, ks keyset, claim string, env envelope, base time.Duration) {
	_ = w.R.ZRem(ctx, ks.processing, claim)
	if env.MaxAttempts > 0 && env.Attempt >= env.MaxAttempts {
		raw, err := json.Marshal(env)
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, ks.dlq, raw).Err()
		if env.Key != "" {
			_ = w.R.Del(ctx, ks.dedup+env.Key).Err()
		}
		countDeadLettered(env.Kind)
		return
	}
	env.AvailableAt = time.Now().Add(resilience.Backoff(base, env.Attempt, w.RetryJitter)).UnixNano()
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, ks.pending, redis.Z{Score: float64(env.AvailableAt), Member: string(raw)}).Err()
	countRetry(env.Kind)
}

func (w Worker) ack(ctx context.Context, ks keyset, claim string, env envelope) {
	_ = w.R.ZRem(ctx, ks.processing, claim)
	if env.Key != "" {
		_ = w.R.Del(ctx, ks.dedup+env.Key).Err()
	}
}

// requeueExpired sweeps deliveries whose visibility deadline passed back onto
// the pending queue.
func (w Worker) requeueExpired(ctx context.Context, ks keyset) error {
	now := float64(time.Now().UnixNano())
	expired, err := w.R.ZRangeByScore(ctx, ks.processing, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, claim := range expired {
		var env envelope
		if err := json.Unmarshal([]byte(claim), &env); err != nil {
			continue
		}
		_ = w.R.ZRem(ctx, ks.processing, claim).Err()
		env.AvailableAt = time.Now().UnixNano()
		raw, err := json.Marshal(env)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, ks.pending, redis.Z{Score: float64(env.AvailableAt), Member: raw}).Err()
	}
	return nil
}

func countEnqueued(kind string) {
	if obs.RefreshTasksEnqueued != nil {
		obs.RefreshTasksEnqueued.WithLabelValues(kind).Inc()
	}
}

func countRetry(kind string) {
	if obs.RefreshTaskRetries != nil {
		obs.RefreshTaskRetries.WithLabelValues(kind).Inc()
	}
}

func countDeadLettered(kind string) {
	if obs.RefreshTasksDeadLettered != nil {
		obs.RefreshTasksDeadLettered.WithLabelValues(kind).Inc()
	}
}
