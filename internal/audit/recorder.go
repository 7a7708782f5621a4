package audit

import (
	"context"

	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
)

// Writer sends events to the audit backend.
type Writer interface {
	Write(ctx context.Context, ev Event) error
}

// Recorder is the engine-facing audit entry point. Log is fire-and-forget:
// the backend write is attempted when a writer is configured, any failure
// (or absence of a writer) lands the event in the local ring cache, and no
// error ever reaches the caller.
type Recorder struct {
	writer Writer // nil when no backend is configured
	cache  *Cache
	logger *logging.Logger
}

// NewRecorder wires the recorder. writer may be nil.
func NewRecorder(writer Writer, cache *Cache, logger *logging.Logger) *Recorder {
	return &Recorder{writer: writer, cache: cache, logger: logger}
}

// Log records an event. Metadata is sanitized here, so call sites never
// need to pre-filter what they attach.
func (r *Recorder) Log(ctx context.Context, ev Event) {
	if ev.Event == "" {
		return
	}
	if ev.Meta != nil {
		ev.Meta = SanitizeMetadata(ev.Meta)
	}

	if r.writer != nil {
		err := r.writer.Write(ctx, ev)
		if err == nil {
			// Mirror into the cache so the local history stays warm.
			if cacheErr := r.cache.Insert(ctx, &ev); cacheErr != nil {
				r.logger.Warn("audit cache mirror failed", "event", ev.Event, "error", cacheErr)
			}
			return
		}
		r.logger.Warn("audit backend write failed, caching locally", "event", ev.Event, "error", err)
	}

	if err := r.cache.Insert(ctx, &ev); err != nil {
		r.logger.Warn("audit cache write failed, event dropped", "event", ev.Event, "error", err)
	}
}

// Recent returns a user's cached events, most recent first.
func (r *Recorder) Recent(ctx context.Context, uid string, limit int) ([]Event, error) {
	return r.cache.ListByUID(ctx, uid, limit)
}
