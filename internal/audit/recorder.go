package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oakline-systems/researchportal/internal/auth"
)

// writeTimeout bounds each audit insert so a wedged database cannot
// stall the drain goroutine forever.
const writeTimeout = 5 * time.Second

// Recorder buffers audit events and writes them to the repository from a
// background goroutine. It implements auth.AuditSink: recording never
// blocks the request path, and a full buffer drops the event with a log
// line rather than stalling authentication.
type Recorder struct {
	repo   Repository
	logger *slog.Logger

	events chan auth.AuditEvent
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRecorder creates a recorder with the given buffer size and starts
// its drain goroutine. Call Close during shutdown to flush buffered
// events.
func NewRecorder(repo Repository, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}

	r := &Recorder{
		repo:   repo,
		logger: logger,
		events: make(chan auth.AuditEvent, buffer),
		done:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.drain()

	return r
}

// Record queues an event for persistence. Non-blocking: if the buffer is
// full the event is dropped and logged.
func (r *Recorder) Record(event auth.AuditEvent) {
	select {
	case r.events <- event:
	default:
		r.logger.Error("audit buffer full, dropping event",
			"action", event.Action, "user_id", event.UserID)
	}
}

// Close stops accepting new events and flushes everything already
// buffered.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) drain() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.events:
			r.write(event)
		case <-r.done:
			// Flush whatever is still buffered before exiting.
			for {
				select {
				case event := <-r.events:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(event auth.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	entry := &Entry{
		UserID:     event.UserID,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Detail:     event.Detail,
		IPAddress:  event.IPAddress,
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("writing audit entry",
			"action", event.Action, "user_id", event.UserID, "error", err)
	}
}
