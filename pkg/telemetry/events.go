package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notification about an apply or the declared model.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source is the component that emitted the event.
	Source string `json:"source"`
	RunID  string `json:"run_id,omitempty"`
	Site   string `json:"site,omitempty"`

	// Entity is "kind:name" of the entity concerned.
	Entity  string                 `json:"entity,omitempty"`
	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeApplyStarted    = "apply.started"
	EventTypeApplyCompleted  = "apply.completed"
	EventTypeApplyFailed     = "apply.failed"
	EventTypeEntityChanged   = "entity.changed"
	EventTypeRevisionCreated = "revision.created"
	EventTypePathRenamed     = "path.renamed"
	EventTypePolicyViolation = "policy.violation"
	EventTypeModelReloaded   = "model.reloaded"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventLevels = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// ErrEventBufferFull is returned by Publish when an async publisher cannot
// take another event.
var ErrEventBufferFull = errors.New("event buffer full")

// EventSubscriber handles one delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to in-process subscribers, either inline
// or from a background goroutine that delivers in batches.
type EventPublisher struct {
	config EventsConfig

	mu          sync.RWMutex
	subscribers []subscription
	filters     []EventFilter

	queue chan Event
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got %d", cfg.BufferSize)
	}
	if ep.config.MaxBatchSize <= 0 {
		ep.config.MaxBatchSize = 1
	}

	ep.queue = make(chan Event, cfg.BufferSize)
	ep.stop = make(chan struct{})
	ep.done = make(chan struct{})
	go ep.run()
	return ep, nil
}

// Subscribe registers fn for events passing filter. A nil filter accepts
// everything.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscription{fn: fn, filter: filter})
}

// AddFilter adds a filter every event must pass before it is queued.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Publish stamps the event with an id and time and delivers it.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, f := range ep.filters {
		if !f(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.stop:
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return ErrEventBufferFull
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.done)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.queue:
			batch = append(batch, e)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.stop:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subscribers {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops the background goroutine after delivering every queued
// event, or gives up when ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.stop) })
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func (ep *EventPublisher) emit(typ, level, source, runID, site, entity, msg string, data map[string]interface{}) error {
	return ep.Publish(Event{
		Type:    typ,
		Level:   level,
		Source:  source,
		RunID:   runID,
		Site:    site,
		Entity:  entity,
		Message: msg,
		Data:    data,
	})
}

func (ep *EventPublisher) PublishApplyStarted(runID, site, actor string, dryRun bool) error {
	return ep.emit(EventTypeApplyStarted, EventLevelInfo, "reconciler", runID, site, "",
		fmt.Sprintf("Apply of site %s started by %s", site, actor),
		map[string]interface{}{"actor": actor, "dry_run": dryRun})
}

func (ep *EventPublisher) PublishApplyCompleted(runID, site string, changes int, duration time.Duration) error {
	return ep.emit(EventTypeApplyCompleted, EventLevelInfo, "reconciler", runID, site, "",
		fmt.Sprintf("Apply of site %s completed with %d changes", site, changes),
		map[string]interface{}{"changes": changes, "duration": duration.Seconds()})
}

func (ep *EventPublisher) PublishApplyFailed(runID, site, reason string) error {
	return ep.emit(EventTypeApplyFailed, EventLevelError, "reconciler", runID, site, "",
		fmt.Sprintf("Apply of site %s failed: %s", site, reason),
		map[string]interface{}{"reason": reason})
}

// PublishEntityChanged announces a persisted create, update, rename or trash.
func (ep *EventPublisher) PublishEntityChanged(runID, site, entity, operation string) error {
	return ep.emit(EventTypeEntityChanged, EventLevelInfo, "reconciler", runID, site, entity,
		operation+" "+entity,
		map[string]interface{}{"operation": operation})
}

func (ep *EventPublisher) PublishRevisionCreated(runID, site, content string, number int, state string) error {
	return ep.emit(EventTypeRevisionCreated, EventLevelInfo, "reconciler", runID, site, "content:"+content,
		fmt.Sprintf("Content %s revision %d (%s)", content, number, state),
		map[string]interface{}{"number": number, "state": state})
}

func (ep *EventPublisher) PublishPathRenamed(runID, site, entity, oldPath, newPath string) error {
	return ep.emit(EventTypePathRenamed, EventLevelInfo, "reconciler", runID, site, entity,
		fmt.Sprintf("Path of %s moved from %s to %s", entity, oldPath, newPath),
		map[string]interface{}{"old_path": oldPath, "new_path": newPath})
}

func (ep *EventPublisher) PublishPolicyViolation(site, entity, policyName, reason string) error {
	return ep.emit(EventTypePolicyViolation, EventLevelWarning, "policy", "", site, entity,
		fmt.Sprintf("%s violates %s: %s", entity, policyName, reason),
		map[string]interface{}{"policy": policyName, "reason": reason})
}

// PublishModelReloaded announces that sitectl watch re-read the declared
// model after a file change.
func (ep *EventPublisher) PublishModelReloaded(source string, sites int) error {
	return ep.emit(EventTypeModelReloaded, EventLevelInfo, "watcher", "", "", "",
		fmt.Sprintf("Reloaded %d site(s) from %s", sites, source),
		map[string]interface{}{"path": source, "sites": sites})
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventLevels[minLevel]
	return func(e Event) bool { return eventLevels[e.Level] >= floor }
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	return func(e Event) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

func FilterByRunID(runID string) EventFilter {
	return func(e Event) bool { return e.RunID == runID }
}

func FilterBySite(site string) EventFilter {
	return func(e Event) bool { return e.Site == site }
}
