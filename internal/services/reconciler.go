package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/celestiaorg/crawlctl/internal/events"
	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/internal/metrics"
	"github.com/celestiaorg/crawlctl/internal/registry"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
)

// DefaultPollInterval is the reconciliation interval
const DefaultPollInterval = 3 * time.Second

// intervalSchedule fires at a fixed interval. cron.Every rounds to whole
// seconds, which is too coarse for short intervals.
type intervalSchedule time.Duration

// Next implements cron.Schedule
func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

// cronLogger routes cron's own logging through the application logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.DebugWithFields("cron: "+msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	logger.ErrorWithFields("cron: "+msg, fields)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}

// Reconciler periodically replaces the registry with the authoritative job
// list. Ticks never overlap, and once Stop returns no tick touches the
// registry again.
type Reconciler struct {
	client   client.Client
	registry *registry.Registry
	events   events.Publisher
	interval time.Duration

	tickMu sync.Mutex

	// stopCtx is cancelled by Stop and aborts any tick in flight
	stopCtx    context.Context
	stopCancel context.CancelFunc
	stopDone   chan struct{}

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewReconciler creates a reconciler. A non-positive interval uses DefaultPollInterval.
func NewReconciler(c client.Client, reg *registry.Registry, pub events.Publisher, interval time.Duration) *Reconciler {
	if pub == nil {
		pub = events.Discard
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stopCtx, stopCancel := context.WithCancel(context.Background())
	return &Reconciler{
		client:     c,
		registry:   reg,
		events:     pub,
		interval:   interval,
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		stopDone:   make(chan struct{}),
	}
}

// Interval returns the poll interval
func (r *Reconciler) Interval() time.Duration {
	return r.interval
}

// Tick performs one list call. On success the registry is replaced; on
// failure it is left untouched and an error notification is published.
func (r *Reconciler) Tick(ctx context.Context) error {
	if !r.tickMu.TryLock() {
		metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return ErrTickInFlight
	}
	defer r.tickMu.Unlock()

	if r.isStopped() {
		return ErrReconcilerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(r.stopCtx, cancel)
	defer stopWatch()

	start := time.Now()
	tasks, err := r.client.ListCrawlTasks(ctx)
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) || r.isStopped() {
			metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
			return err
		}
		metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		logger.WarnWithFields("failed to load jobs", map[string]interface{}{"error": err.Error()})
		events.Notify(r.events, events.LevelError, 0, "", "Failed to load jobs: %v", err)
		return err
	}

	for _, task := range tasks {
		if !task.Status.Known() {
			logger.WarnWithFields("job has an unrecognized status", map[string]interface{}{
				"task_id": task.ID,
				"status":  task.Status.String(),
			})
		}
	}

	// Replace under mu so Stop either sees the mutation finished or prevents it.
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrReconcilerStopped
	}
	r.registry.Replace(tasks)
	r.mu.Unlock()

	metrics.ReconcileTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.DebugWithFields("jobs reconciled", map[string]interface{}{"count": len(tasks)})
	r.events.Publish(events.Event{
		Type:    events.EventTasksRefreshed,
		Count:   len(tasks),
		Message: "jobs reloaded",
	})
	return nil
}

// Start runs one tick immediately and then one per interval until Stop or
// until ctx is done
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrReconcilerStopped
	}
	if r.started {
		return ErrReconcilerStarted
	}
	r.started = true

	r.cron = cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	r.cron.Schedule(intervalSchedule(r.interval), cron.FuncJob(func() {
		_ = r.Tick(ctx)
	}))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Tick(ctx)
	}()

	r.cron.Start()
	context.AfterFunc(ctx, r.Stop)
	logger.InfoWithFields("reconciliation started", map[string]interface{}{"interval": r.interval.String()})
	return nil
}

// Stop ends the loop. It cancels an in-flight tick and waits for it. Later
// calls wait for the first one to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.stopDone
		return
	}
	r.stopped = true
	c := r.cron
	r.mu.Unlock()

	r.stopCancel()
	if c != nil {
		<-c.Stop().Done()
	}
	r.wg.Wait()

	// a manual tick may still be unwinding
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	close(r.stopDone)
	logger.Info("reconciliation stopped")
}

func (r *Reconciler) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
