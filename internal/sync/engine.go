package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope         = "pulsebook/sync"
	spanRun           = "sync.run"
	metricPushed      = "pulsebook.sync.records.pushed"
	metricPulled      = "pulsebook.sync.records.pulled"
	metricFailed      = "pulsebook.sync.records.failed"
	metricSkipped     = "pulsebook.sync.records.skipped"
	metricUnavailable = "pulsebook.sync.unavailable"
)

// ErrSyncInProgress is returned when a sync is triggered while another one is
// still running. Triggers are rejected, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// LastRun describes the most recent completed sync call.
type LastRun struct {
	Result   Result
	Started  time.Time
	Duration time.Duration
}

// Engine owns the sync lifecycle: manual triggers, the optional periodic loop
// and the single-flight guard between them. Create one with [NewEngine].
type Engine struct {
	reconciler *Reconciler
	local      LocalStore
	interval   time.Duration
	log        *slog.Logger

	running atomic.Bool
	last    atomic.Pointer[LastRun]

	// OTel instruments, never nil (no-op when telemetry is disabled).
	tracer         trace.Tracer
	cntPushed      metric.Int64Counter
	cntPulled      metric.Int64Counter
	cntFailed      metric.Int64Counter
	cntSkipped     metric.Int64Counter
	cntUnavailable metric.Int64Counter
}

// NewEngine creates an Engine. An interval of zero disables the periodic loop.
func NewEngine(reconciler *Reconciler, local LocalStore, interval time.Duration, logger *slog.Logger) *Engine {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler: reconciler,
		local:      local,
		interval:   interval,
		log:        logger,

		tracer:         otel.Tracer(otelScope),
		cntPushed:      mustCounter(metricPushed, "Number of local records confirmed on the remote"),
		cntPulled:      mustCounter(metricPulled, "Number of local records written from the remote"),
		cntFailed:      mustCounter(metricFailed, "Number of per-record sync failures"),
		cntSkipped:     mustCounter(metricSkipped, "Number of pulled records skipped because of a pending local change"),
		cntUnavailable: mustCounter(metricUnavailable, "Number of sync calls aborted because the remote was unreachable"),
	}
}

// SyncAll runs one push+pull pass. It returns [ErrSyncInProgress] when a
// pass is already running; every other outcome is reported in the Result.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	return e.run(ctx, "all", e.reconciler.SyncAll)
}

// SyncUp runs one push pass under the same guard as SyncAll.
func (e *Engine) SyncUp(ctx context.Context) (Result, error) {
	return e.run(ctx, "up", e.reconciler.SyncUp)
}

// SyncDown runs one pull pass under the same guard as SyncAll.
func (e *Engine) SyncDown(ctx context.Context) (Result, error) {
	return e.run(ctx, "down", e.reconciler.SyncDown)
}

// PendingCount returns the number of local records awaiting push.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.local.PendingCount(ctx)
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Last returns the most recent completed pass, or nil.
func (e *Engine) Last() *LastRun {
	return e.last.Load()
}

func (e *Engine) run(ctx context.Context, mode string, fn func(context.Context) Result) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, span := e.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("sync.mode", mode)))
	defer span.End()

	started := time.Now()
	res := fn(ctx)

	// Counters are always safe even if the span is a no-op.
	if n := res.Data.Synced; n > 0 {
		e.cntPushed.Add(ctx, int64(n))
	}
	if n := res.Data.Downloaded; n > 0 {
		e.cntPulled.Add(ctx, int64(n))
	}
	if n := res.Data.Failed; n > 0 {
		e.cntFailed.Add(ctx, int64(n))
	}
	if n := res.Data.Skipped; n > 0 {
		e.cntSkipped.Add(ctx, int64(n))
	}
	if res.Unavailable() {
		e.cntUnavailable.Add(ctx, 1)
	}

	span.SetAttributes(
		attribute.String("sync.status", string(res.Outcome)),
		attribute.Int("sync.synced", res.Data.Synced),
		attribute.Int("sync.failed", res.Data.Failed),
		attribute.Int("sync.downloaded", res.Data.Downloaded),
		attribute.Int("sync.skipped", res.Data.Skipped),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Message)
	}

	e.last.Store(&LastRun{Result: res, Started: started, Duration: time.Since(started)})
	return res, nil
}

// Run starts the periodic loop. It blocks until ctx is cancelled. With a zero
// interval it only waits for cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if e.interval <= 0 {
		e.log.Info("periodic sync disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Run an immediate first pass.
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	res, err := e.SyncAll(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		e.log.Debug("periodic sync skipped, pass in flight")
	case res.Unavailable():
		e.log.Info("remote unavailable, will retry next interval", "error", res.Err)
	case res.Err != nil:
		e.log.Error("periodic sync failed", "error", res.Err)
	}
}
