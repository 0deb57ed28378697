package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventRecord is a single captured structured log record, the shape
// GET /v1/events renders. ID lets a polling API client deduplicate
// records it has already seen across repeated /v1/events calls.
type EventRecord struct {
	ID      string
	Time    time.Time
	Level   string
	Message string
	Attrs   map[string]any
}

// EventLog is an slog.Handler that captures the last capacity records
// into a ring buffer, giving the daemon API a read-only window onto the
// structured events spec.md §7 says "operator-facing surfaces render":
// announcement rejections, disconnect causes, fetch failures, and the
// like, however the rest of the process chooses to log them. It never
// refuses a record and never errors, mirroring the teacher's
// pkg/p2pnet/audit.go "nil-safe, no-op on every call" convention except
// here the no-op case is "buffer is disabled" (capacity 0).
type EventLog struct {
	mu   sync.Mutex
	buf  []EventRecord
	next int
	full bool
}

// NewEventLog allocates an EventLog with room for capacity records.
func NewEventLog(capacity int) *EventLog {
	return &EventLog{buf: make([]EventRecord, capacity)}
}

func (e *EventLog) Enabled(context.Context, slog.Level) bool { return len(e.buf) > 0 }

func (e *EventLog) Handle(_ context.Context, r slog.Record) error {
	if len(e.buf) == 0 {
		return nil
	}
	rec := EventRecord{ID: uuid.NewString(), Time: r.Time, Level: r.Level.String(), Message: r.Message}
	if r.NumAttrs() > 0 {
		rec.Attrs = make(map[string]any, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			rec.Attrs[a.Key] = a.Value.Any()
			return true
		})
	}

	e.mu.Lock()
	e.buf[e.next] = rec
	e.next = (e.next + 1) % len(e.buf)
	if e.next == 0 {
		e.full = true
	}
	e.mu.Unlock()
	return nil
}

// WithAttrs and WithGroup both return the receiver unchanged: the
// ring buffer records whatever attrs/message slog already resolved,
// it does not itself scope them further.
func (e *EventLog) WithAttrs([]slog.Attr) slog.Handler { return e }
func (e *EventLog) WithGroup(string) slog.Handler      { return e }

// Recent returns up to n of the most recently captured records, newest
// last. n <= 0 returns every retained record.
func (e *EventLog) Recent(n int) []EventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ordered []EventRecord
	if e.full {
		ordered = append(ordered, e.buf[e.next:]...)
		ordered = append(ordered, e.buf[:e.next]...)
	} else {
		ordered = append(ordered, e.buf[:e.next]...)
	}

	if n <= 0 || n >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-n:]
}
