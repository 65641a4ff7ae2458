package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// Event statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const eventQueryLimit = 50

// keyTimeLayout is fixed width so keys sort chronologically.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one event-log record.
type Entry struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Payload string    `json:"payload"`
	Status  string    `json:"status"`
	Time    time.Time `json:"time"`
}

func eventKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%s:%s", e.Time.UTC().Format(keyTimeLayout), e.ID))
}

// AppendEvent stores e, filling ID and Time when empty, and trims the log
// to the configured size.
func (s *Store) AppendEvent(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = s.opts.Now()
	}
	if e.Status == "" {
		e.Status = StatusCompleted
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		if err := putJSON(b, eventKey(e), e); err != nil {
			return err
		}
		excess := countKeys(b) - s.opts.EventKeep
		if excess <= 0 {
			return nil
		}
		var doomed [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(doomed) < excess; k, _ = c.Next() {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentEvents returns up to n entries, newest first.
func (s *Store) RecentEvents(n int) ([]Entry, error) {
	return s.scanEvents(n, func(Entry) bool { return true })
}

// GrepEvents returns entries whose type or payload contains q.
func (s *Store) GrepEvents(q string) ([]Entry, error) {
	q = strings.ToLower(q)
	return s.scanEvents(eventQueryLimit, func(e Entry) bool {
		return strings.Contains(strings.ToLower(e.Payload), q) || strings.Contains(strings.ToLower(e.Type), q)
	})
}

// FailedEvents returns entries with StatusFailed.
func (s *Store) FailedEvents() ([]Entry, error) {
	return s.scanEvents(eventQueryLimit, func(e Entry) bool { return e.Status == StatusFailed })
}

func (s *Store) scanEvents(limit int, keep func(Entry) bool) ([]Entry, error) {
	if limit <= 0 {
		limit = eventQueryLimit
	}
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("error deserializing event: %w", err)
			}
			if keep(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// ============================================================================
// Recorder
// ============================================================================

// Recorder writes entries to the event log from a background goroutine so
// callers never block on the database.
type Recorder struct {
	store  *Store
	queue  chan Entry
	logger *slog.Logger
}

// NewRecorder returns a Recorder with a queue of the given size.
func NewRecorder(store *Store, queue int, logger *slog.Logger) *Recorder {
	if queue <= 0 {
		queue = 256
	}
	return &Recorder{store: store, queue: make(chan Entry, queue), logger: logger}
}

// Record enqueues an entry; it is dropped with a warning if the queue is full.
func (r *Recorder) Record(kind, payload, status string) {
	e := Entry{Type: kind, Payload: payload, Status: status, Time: r.store.opts.Now()}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("event log queue full, dropping entry", "type", kind)
	}
}

// RecordAction logs a dispatched action.
func (r *Recorder) RecordAction(kind string, payload []byte, failed bool) {
	status := StatusCompleted
	if failed {
		status = StatusFailed
	}
	r.Record(kind, string(payload), status)
}

// Run drains the queue until ctx ends, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.queue:
			r.write(e)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e Entry) {
	if err := r.store.AppendEvent(e); err != nil {
		r.logger.Warn("event log write failed", "type", e.Type, "error", err)
	}
}

func countKeys(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}
