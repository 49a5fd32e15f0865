// Package events provides event handling functionality
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/pkg/models"
)

// EventType represents the type of orchestrator event
type EventType string

const (
	// EventNotification carries a user-facing message
	EventNotification EventType = "notification"
	// EventTasksRefreshed is emitted after a successful reconciliation
	EventTasksRefreshed EventType = "tasks_refreshed"
	// EventTaskUpdated is emitted when a job's local status changes
	EventTaskUpdated EventType = "task_updated"
	// EventChannelSize is the buffer size for the event channel
	EventChannelSize = 100
	// NotificationWait bounds how long Publish waits for room for a notification
	NotificationWait = 5 * time.Second
)

// Level is the severity of a notification
type Level string

// Notification levels
const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event represents an orchestrator event
type Event struct {
	Type    EventType          // The type of event
	Level   Level              // Severity, set for notifications
	Message string             // User-facing text
	TaskID  int64              // The job concerned, zero when none
	URL     string             // The job URL, when known
	Status  models.CrawlStatus // The job status, for task updates
	Count   int                // Number of jobs, for refreshes
	Time    time.Time          // When the event was published
}

// String formats the event for display
func (e Event) String() string {
	if e.Type == EventNotification {
		return fmt.Sprintf("[%s] %s", e.Level, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Handler is a function that handles an event
type Handler func(context.Context, Event) error

// Publisher accepts events
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to a Publisher
type PublisherFunc func(Event)

// Publish calls f(event)
func (f PublisherFunc) Publish(event Event) {
	f(event)
}

// Discard drops every event
var Discard Publisher = PublisherFunc(func(Event) {})

// Notify publishes a notification
func Notify(p Publisher, level Level, taskID int64, url, format string, args ...interface{}) {
	p.Publish(Event{
		Type:    EventNotification,
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		TaskID:  taskID,
		URL:     url,
	})
}

// Bus fans events out to subscribed handlers. Handlers run one at a time in
// publish order.
type Bus struct {
	handlersMu sync.RWMutex
	handlers   map[EventType][]Handler
	eventChan  chan Event
}

var _ Publisher = (*Bus)(nil)

// NewBus creates a bus with the given buffer size
func NewBus(size int) *Bus {
	if size <= 0 {
		size = EventChannelSize
	}
	return &Bus{
		handlers:  make(map[EventType][]Handler),
		eventChan: make(chan Event, size),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	logger.Debugf("Registered handler for event type: %s", eventType)
}

// Publish queues an event. Notifications wait up to NotificationWait for room
// in a full buffer; other events are dropped right away.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case b.eventChan <- event:
		logger.Debugf("Published event: %s (task: %d)", event.Type, event.TaskID)
		return
	default:
	}

	if event.Type != EventNotification {
		logger.Debugf("Event buffer full, dropping %s event for task %d", event.Type, event.TaskID)
		return
	}

	timer := time.NewTimer(NotificationWait)
	defer timer.Stop()
	select {
	case b.eventChan <- event:
		logger.Debugf("Published event: %s (task: %d)", event.Type, event.TaskID)
	case <-timer.C:
		logger.Warnf("Event buffer full, dropping notification for task %d: %s", event.TaskID, event.Message)
	}
}

// Start starts the event processing loop
func (b *Bus) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	logger.Debug("Started event processing loop")
	return done
}

// Run processes events until ctx is done, then drains what is already queued
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-b.eventChan:
					b.dispatch(context.WithoutCancel(ctx), event)
				default:
					logger.Debug("Stopping event processing loop")
					return
				}
			}
		case event := <-b.eventChan:
			b.dispatch(ctx, event)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event) {
	b.handlersMu.RLock()
	eventHandlers := b.handlers[event.Type]
	b.handlersMu.RUnlock()

	for _, handler := range eventHandlers {
		if err := handler(ctx, event); err != nil {
			logger.Errorf("Failed to handle event %s: %v", event.Type, err)
		}
	}
}
