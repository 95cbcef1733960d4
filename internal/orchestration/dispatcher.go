package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/solacehealth/therapy-ai-platform/internal/observability/metrics"
	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

const (
	dispatcherWorkerCount = 2
	dispatcherWaitSeconds = 2
	dispatcherBatchSize   = 5
	telemetryWriteTimeout = 5 * time.Second
)

// TelemetryDispatcher decouples telemetry persistence from the response path.
// The controller enqueues envelopes; worker goroutines drain the queue and
// write to Postgres and DynamoDB. Every write is best-effort: a failure is
// logged and counted, never surfaced to the caller.
type TelemetryDispatcher struct {
	queue   queueClient
	store   *TelemetryStore
	monitor *MonitorStore
	metrics *metrics.OrchestrationMetrics
	logger  *logging.Logger

	workers int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*TelemetryDispatcher)

// WithDispatcherWorkers sets the number of consumer goroutines.
func WithDispatcherWorkers(count int) DispatcherOption {
	return func(d *TelemetryDispatcher) {
		if count > 0 {
			d.workers = count
		}
	}
}

// WithDispatcherMetrics counts telemetry write failures.
func WithDispatcherMetrics(m *metrics.OrchestrationMetrics) DispatcherOption {
	return func(d *TelemetryDispatcher) {
		d.metrics = m
	}
}

// NewTelemetryDispatcher wires a dispatcher over the queue and stores. Either
// store may be nil; envelopes targeting a missing store are dropped with a
// debug log.
func NewTelemetryDispatcher(queue queueClient, store *TelemetryStore, monitor *MonitorStore, logger *logging.Logger, opts ...DispatcherOption) *TelemetryDispatcher {
	if queue == nil {
		panic("orchestration: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	d := &TelemetryDispatcher{
		queue:   queue,
		store:   store,
		monitor: monitor,
		logger:  logger,
		workers: dispatcherWorkerCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches worker goroutines until Shutdown or ctx cancellation.
func (d *TelemetryDispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i+1)
	}
}

// Shutdown stops the workers and waits for in-flight writes, bounded by ctx.
func (d *TelemetryDispatcher) Shutdown(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestration: dispatcher shutdown timed out: %w", ctx.Err())
	}
}

// EnqueueDecision queues a decision record for persistence.
func (d *TelemetryDispatcher) EnqueueDecision(ctx context.Context, rec *DecisionRecord) {
	d.enqueue(ctx, telemetryEnvelope{Kind: telemetryKindDecision, Decision: rec})
}

// EnqueueQuality queues a session quality update.
func (d *TelemetryDispatcher) EnqueueQuality(ctx context.Context, update *QualityMetricsUpdate) {
	d.enqueue(ctx, telemetryEnvelope{Kind: telemetryKindQuality, Quality: update})
}

// EnqueueMemory queues a conversation-memory entry.
func (d *TelemetryDispatcher) EnqueueMemory(ctx context.Context, entry *MemoryEntry) {
	d.enqueue(ctx, telemetryEnvelope{Kind: telemetryKindMemory, Memory: entry})
}

// EnqueueCrisis queues a crisis-monitoring upsert.
func (d *TelemetryDispatcher) EnqueueCrisis(ctx context.Context, rec *CrisisMonitorRecord) {
	d.enqueue(ctx, telemetryEnvelope{Kind: telemetryKindCrisis, Crisis: rec})
}

func (d *TelemetryDispatcher) enqueue(ctx context.Context, env telemetryEnvelope) {
	env, body, err := encodeEnvelope(env)
	if err != nil {
		d.logger.Error("failed to encode telemetry envelope", "error", err, "kind", env.Kind)
		d.metrics.ObserveTelemetryFailure(string(env.Kind))
		return
	}
	if err := d.queue.Send(ctx, body); err != nil {
		d.logger.Error("failed to enqueue telemetry", "error", err, "kind", env.Kind, "envelope_id", env.ID)
		d.metrics.ObserveTelemetryFailure(string(env.Kind))
	}
}

func (d *TelemetryDispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()
	d.logger.Debug("telemetry worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("telemetry worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := d.queue.Receive(ctx, dispatcherBatchSize, dispatcherWaitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("failed to receive telemetry", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *TelemetryDispatcher) handleMessage(ctx context.Context, msg queueMessage) {
	var env telemetryEnvelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		d.logger.Error("failed to decode telemetry envelope", "error", err)
		d.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, telemetryWriteTimeout)
	err := d.write(writeCtx, env)
	cancel()

	if err != nil {
		d.logger.Error("telemetry write failed", "error", err, "kind", env.Kind, "envelope_id", env.ID)
		d.metrics.ObserveTelemetryFailure(string(env.Kind))
	}

	// Writes are not retried; a failed envelope is dropped after being counted.
	d.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (d *TelemetryDispatcher) write(ctx context.Context, env telemetryEnvelope) error {
	switch env.Kind {
	case telemetryKindDecision:
		if d.store == nil || env.Decision == nil {
			d.logger.Debug("dropping decision envelope", "envelope_id", env.ID)
			return nil
		}
		return d.store.InsertDecision(ctx, env.Decision)
	case telemetryKindQuality:
		if d.store == nil || env.Quality == nil {
			d.logger.Debug("dropping quality envelope", "envelope_id", env.ID)
			return nil
		}
		return d.store.UpsertQualityMetrics(ctx, env.Quality)
	case telemetryKindMemory:
		if d.store == nil || env.Memory == nil {
			d.logger.Debug("dropping memory envelope", "envelope_id", env.ID)
			return nil
		}
		return d.store.InsertMemory(ctx, env.Memory)
	case telemetryKindCrisis:
		if d.monitor == nil || env.Crisis == nil {
			d.logger.Debug("dropping crisis envelope", "envelope_id", env.ID)
			return nil
		}
		return d.monitor.Upsert(ctx, env.Crisis)
	default:
		return fmt.Errorf("orchestration: unknown telemetry kind %q", env.Kind)
	}
}

func (d *TelemetryDispatcher) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, telemetryWriteTimeout)
	defer cancel()

	if err := d.queue.Delete(deleteCtx, receiptHandle); err != nil {
		d.logger.Error("failed to delete telemetry message", "error", err)
	}
}
