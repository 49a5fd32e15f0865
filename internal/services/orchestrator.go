// Package services implements the crawl job orchestrator and the
// reconciliation loop on top of the API client
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/celestiaorg/crawlctl/internal/events"
	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/internal/metrics"
	"github.com/celestiaorg/crawlctl/internal/registry"
	"github.com/celestiaorg/crawlctl/internal/tracker"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// Verb names used for metrics and logs
const (
	VerbAdd            = "add"
	VerbStart          = "start"
	VerbStartSelected  = "start_selected"
	VerbStop           = "stop"
	VerbDelete         = "delete"
	VerbDeleteSelected = "delete_selected"
)

// urlRule accepts absolute http and https URLs only
const urlRule = "required,http_url"

// Orchestrator runs operator verbs against the crawl service and keeps the
// local registry, execution tracker and id sets consistent with them
type Orchestrator struct {
	client    client.Client
	registry  *registry.Registry
	tracker   *tracker.Tracker
	events    events.Publisher
	validate  *validator.Validate
	selection *tracker.IDSet
	deleting  *tracker.IDSet

	wg sync.WaitGroup
}

// NewOrchestrator creates a new orchestrator. A nil publisher discards events.
func NewOrchestrator(c client.Client, reg *registry.Registry, tr *tracker.Tracker, pub events.Publisher) *Orchestrator {
	if pub == nil {
		pub = events.Discard
	}
	reg.OnChange(func(size int) { metrics.RegistrySize.Set(float64(size)) })
	tr.OnChange(func(active int) { metrics.ActiveExecutions.Set(float64(active)) })

	return &Orchestrator{
		client:    c,
		registry:  reg,
		tracker:   tr,
		events:    pub,
		validate:  validator.New(),
		selection: tracker.NewIDSet(),
		deleting:  tracker.NewIDSet(),
	}
}

// Registry returns the job registry
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Tracker returns the execution tracker
func (o *Orchestrator) Tracker() *tracker.Tracker {
	return o.tracker
}

// Add validates rawURL and registers it with the crawl service. Invalid input
// fails with a ValidationError before any network call.
func (o *Orchestrator) Add(ctx context.Context, rawURL string) (*models.CrawlTask, error) {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		err := &ValidationError{Field: "url", Value: rawURL, Message: "Please enter a URL."}
		events.Notify(o.events, events.LevelWarning, 0, "", "%s", err.Message)
		observe(VerbAdd, err)
		return nil, err
	}
	if verr := o.validate.Var(u, urlRule); verr != nil {
		err := &ValidationError{Field: "url", Value: u, Message: "Invalid URL (must start with http:// or https://)."}
		events.Notify(o.events, events.LevelError, 0, u, "%s", err.Message)
		observe(VerbAdd, err)
		return nil, err
	}

	created, err := o.client.CreateCrawlTask(ctx, u)
	if err != nil {
		logger.ErrorWithFields("failed to add crawl job", map[string]interface{}{"url": u, "error": err.Error()})
		events.Notify(o.events, events.LevelError, 0, u, "Failed to add crawl job %s: %v", u, err)
		observe(VerbAdd, err)
		return nil, fmt.Errorf("add %s: %w", u, err)
	}

	task := *created
	task.URL = u
	if task.Status == "" {
		task.Status = models.CrawlStatusPending
	}
	o.registry.Upsert(task)

	logger.InfoWithFields("crawl job added", map[string]interface{}{"task_id": task.ID, "url": u})
	events.Notify(o.events, events.LevelSuccess, task.ID, u, "Crawl job added.")
	o.publishUpdate(task.ID, u, task.Status)
	observe(VerbAdd, nil)
	return &task, nil
}

// StartOne runs one crawl execution for task and blocks until it ends. A job
// with a live execution is rejected with ErrAlreadyRunning and no remote call.
func (o *Orchestrator) StartOne(ctx context.Context, task models.CrawlTask) error {
	h, err := o.tracker.TryStart(ctx, task.ID)
	if err != nil {
		events.Notify(o.events, events.LevelInfo, task.ID, task.URL, "Crawl for %s is already running.", task.URL)
		observe(VerbStart, ErrAlreadyRunning)
		return ErrAlreadyRunning
	}
	defer h.Done()

	fields := map[string]interface{}{"task_id": task.ID, "url": task.URL}
	runCtx := h.Context()

	o.setLocalStatus(task, models.CrawlStatusInProgress)
	if err := o.client.UpdateCrawlTaskStatus(runCtx, task.ID, models.CrawlStatusInProgress); err != nil {
		return o.finishFailed(h, task, err)
	}

	logger.InfoWithFields("crawl started", fields)
	events.Notify(o.events, events.LevelSuccess, task.ID, task.URL, "Crawl started for %s", task.URL)

	if _, err := o.client.StartCrawl(runCtx, task.ID); err != nil {
		return o.finishFailed(h, task, err)
	}

	// the terminal update must land even if a stop races the completion
	if err := o.client.UpdateCrawlTaskStatus(context.WithoutCancel(runCtx), task.ID, models.CrawlStatusSuccess); err != nil {
		logger.WarnWithFields("failed to record crawl success", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		events.Notify(o.events, events.LevelWarning, task.ID, task.URL, "Crawl for %s finished but its status could not be saved: %v", task.URL, err)
	}
	o.setLocalStatus(task, models.CrawlStatusSuccess)

	logger.InfoWithFields("crawl completed", fields)
	events.Notify(o.events, events.LevelSuccess, task.ID, task.URL, "Crawl for %s completed.", task.URL)
	observe(VerbStart, nil)
	return nil
}

// finishFailed settles an execution that did not complete. A stopped
// execution was already marked failed remotely by Stop.
func (o *Orchestrator) finishFailed(h *tracker.Handle, task models.CrawlTask, cause error) error {
	o.setLocalStatus(task, models.CrawlStatusFailed)

	if h.Stopped() {
		logger.InfoWithFields("crawl stopped", map[string]interface{}{"task_id": task.ID, "url": task.URL})
		metrics.VerbsTotal.WithLabelValues(VerbStart, metrics.OutcomeCancelled).Inc()
		return fmt.Errorf("crawl for %s: %w", task.URL, ErrStopped)
	}

	if err := o.client.UpdateCrawlTaskStatus(context.WithoutCancel(h.Context()), task.ID, models.CrawlStatusFailed); err != nil {
		logger.WarnWithFields("failed to record crawl failure", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
	}

	logger.ErrorWithFields("crawl failed", map[string]interface{}{"task_id": task.ID, "url": task.URL, "error": cause.Error()})
	events.Notify(o.events, events.LevelError, task.ID, task.URL, "Failed to start crawl for %s: %v", task.URL, cause)
	observe(VerbStart, cause)
	return fmt.Errorf("crawl for %s: %w", task.URL, cause)
}

// StartAsync runs StartOne in the background; Wait blocks until it returns
func (o *Orchestrator) StartAsync(ctx context.Context, task models.CrawlTask) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.StartOne(ctx, task)
	}()
}

// StartByID looks id up in the registry and starts it in the background
func (o *Orchestrator) StartByID(ctx context.Context, id int64) error {
	task, ok := o.registry.Get(id)
	if !ok {
		return fmt.Errorf("start %d: %w", id, ErrUnknownTask)
	}
	if o.tracker.IsActive(id) {
		events.Notify(o.events, events.LevelInfo, id, task.URL, "Crawl for %s is already running.", task.URL)
		return ErrAlreadyRunning
	}
	o.StartAsync(ctx, task)
	return nil
}

// StartSelected starts every selected job present in the registry without
// waiting for them, clears the selection and returns how many were launched
func (o *Orchestrator) StartSelected(ctx context.Context) int {
	selected := o.selection.Drain()
	want := make(map[int64]struct{}, len(selected))
	for _, id := range selected {
		want[id] = struct{}{}
	}

	launched := 0
	for _, task := range o.registry.List() {
		if _, ok := want[task.ID]; !ok {
			continue
		}
		o.StartAsync(ctx, task)
		launched++
	}

	logger.InfoWithFields("bulk start", map[string]interface{}{"selected": len(selected), "launched": launched})
	metrics.VerbsTotal.WithLabelValues(VerbStartSelected, metrics.OutcomeSuccess).Inc()
	return launched
}

// Wait blocks until every background start has returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels the live execution of id, marks it failed locally and tells
// the crawl service. Without a live execution nothing is sent.
func (o *Orchestrator) Stop(ctx context.Context, id int64) error {
	if !o.tracker.Cancel(id) {
		events.Notify(o.events, events.LevelInfo, id, "", "Nothing to stop for ID %d", id)
		observe(VerbStop, ErrNothingToStop)
		return ErrNothingToStop
	}

	url := ""
	if task, ok := o.registry.Get(id); ok {
		url = task.URL
	}
	o.registry.UpdateStatus(id, models.CrawlStatusFailed)
	o.publishUpdate(id, url, models.CrawlStatusFailed)

	if err := o.client.UpdateCrawlTaskStatus(ctx, id, models.CrawlStatusFailed); err != nil {
		logger.ErrorWithFields("failed to stop crawl", map[string]interface{}{"task_id": id, "error": err.Error()})
		events.Notify(o.events, events.LevelError, id, url, "Failed to stop crawl for ID %d: %v", id, err)
		observe(VerbStop, err)
		return fmt.Errorf("stop %d: %w", id, err)
	}

	logger.InfoWithFields("stop requested", map[string]interface{}{"task_id": id})
	events.Notify(o.events, events.LevelSuccess, id, url, "Stop requested for ID %d", id)
	observe(VerbStop, nil)
	return nil
}

// StopAll stops every live execution
func (o *Orchestrator) StopAll(ctx context.Context) error {
	var result *multierror.Error
	for _, id := range o.tracker.Active() {
		if err := o.Stop(ctx, id); err != nil && !IsAdvisory(err) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Delete removes id from the crawl service and, on success, from the
// registry. A second delete for the same id while one is in flight is a no-op.
func (o *Orchestrator) Delete(ctx context.Context, id int64) error {
	if !o.deleting.Add(id) {
		logger.DebugWithFields("delete already in flight", map[string]interface{}{"task_id": id})
		observe(VerbDelete, ErrDeleteInProgress)
		return ErrDeleteInProgress
	}
	defer o.deleting.Remove(id)

	if _, err := o.client.DeleteCrawlTask(ctx, id); err != nil {
		logger.ErrorWithFields("failed to delete job", map[string]interface{}{"task_id": id, "error": err.Error()})
		var terr *client.TransportError
		if errors.As(err, &terr) && terr.Message != "" {
			events.Notify(o.events, events.LevelError, id, "", "Failed to delete job ID %d: %s", id, terr.Message)
		} else {
			events.Notify(o.events, events.LevelError, id, "", "Failed to delete job ID %d: %v", id, err)
		}
		observe(VerbDelete, err)
		return fmt.Errorf("delete %d: %w", id, err)
	}

	o.registry.Remove(id)
	logger.InfoWithFields("job deleted", map[string]interface{}{"task_id": id})
	events.Notify(o.events, events.LevelSuccess, id, "", "Deleted job ID %d", id)
	observe(VerbDelete, nil)
	return nil
}

// IsDeleting reports whether a delete for id is in flight
func (o *Orchestrator) IsDeleting(id int64) bool {
	return o.deleting.Contains(id)
}

// DeleteSelected deletes the selected jobs one after another, then clears the
// selection. Failures are collected and returned together.
func (o *Orchestrator) DeleteSelected(ctx context.Context) error {
	var result *multierror.Error
	for _, id := range o.selection.List() {
		if err := o.Delete(ctx, id); err != nil && !IsAdvisory(err) {
			result = multierror.Append(result, err)
		}
	}
	o.selection.Clear()

	err := result.ErrorOrNil()
	observe(VerbDeleteSelected, err)
	return err
}

// ToggleSelection adds id to the selection when checked, removes it otherwise
func (o *Orchestrator) ToggleSelection(id int64, checked bool) {
	o.selection.Set(id, checked)
}

// SelectAll selects every job in the registry
func (o *Orchestrator) SelectAll() {
	o.selection.Replace(o.registry.IDs())
}

// SelectNone clears the selection
func (o *Orchestrator) SelectNone() {
	o.selection.Clear()
}

// Selection returns the selected ids in selection order
func (o *Orchestrator) Selection() []int64 {
	return o.selection.List()
}

// IsSelected reports whether id is selected
func (o *Orchestrator) IsSelected(id int64) bool {
	return o.selection.Contains(id)
}

func (o *Orchestrator) setLocalStatus(task models.CrawlTask, status models.CrawlStatus) {
	if o.registry.UpdateStatus(task.ID, status) {
		o.publishUpdate(task.ID, task.URL, status)
	}
}

func (o *Orchestrator) publishUpdate(id int64, url string, status models.CrawlStatus) {
	o.events.Publish(events.Event{
		Type:    events.EventTaskUpdated,
		TaskID:  id,
		URL:     url,
		Status:  status,
		Message: fmt.Sprintf("job %d is %s", id, status),
	})
}

// observe counts a verb outcome
func observe(verb string, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case IsAdvisory(err):
		outcome = metrics.OutcomeSkipped
	case errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCancelled
	default:
		outcome = metrics.OutcomeFailure
	}
	metrics.VerbsTotal.WithLabelValues(verb, outcome).Inc()
}
