// Package audit implements the SQLite-backed audit trail: a best-effort,
// asynchronous append log of requests, responses, events, and guard
// failures. It is a write-only observability artifact, never read back by
// the bridge itself, and distinct from the (explicitly out of scope)
// persistence of catalog state.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unrealtools/mcp-bridge/internal/port"
)

const (
	bufferSize  = 4096
	batchSize   = 64
	flushPeriod = 500 * time.Millisecond
)

type record struct {
	tsMs      int64
	kind      string
	requestID string
	tool      string
	status    string
	detail    string
}

// Sink is a SQLite-backed port.AuditSink. Record never blocks the caller: a
// full buffer drops the oldest pending record and increments a drop counter.
type Sink struct {
	logger  *slog.Logger
	metrics port.Metrics

	db      *sql.DB
	buf     chan record
	stop    chan struct{}
	done    chan struct{}
	dropped uint64
	mu      sync.Mutex
}

// Open creates/opens the audit database at dbPath and starts the background
// writer goroutine. Close must be called to flush and release the file.
func Open(dbPath string, logger *slog.Logger, metrics port.Metrics) (*Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts_ms INTEGER NOT NULL,
		kind TEXT NOT NULL,
		request_id TEXT,
		tool TEXT,
		status TEXT,
		detail TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}

	s := &Sink{
		logger: logger,
		metrics: metrics,
		db:     db,
		buf:    make(chan record, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Record implements port.AuditSink. kind is one of request/response/
// event/guard_failure.
func (s *Sink) Record(kind, requestID, tool, status, detail string) {
	r := record{tsMs: time.Now().UnixMilli(), kind: kind, requestID: requestID, tool: tool, status: status, detail: detail}
	select {
	case s.buf <- r:
	default:
		select {
		case <-s.buf:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.IncCounter("audit.dropped", nil)
			}
		default:
		}
		select {
		case s.buf <- r:
		default:
		}
	}
}

func (s *Sink) writeLoop() {
	defer close(s.done)
	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()

	batch := make([]record, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertBatch(batch); err != nil && s.logger != nil {
			s.logger.Warn("audit: batch insert failed", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-s.buf:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case r := <-s.buf:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Sink) insertBatch(batch []record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_log (ts_ms, kind, request_id, tool, status, detail) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range batch {
		if _, err := stmt.Exec(r.tsMs, r.kind, r.requestID, r.tool, r.status, r.detail); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close stops the writer loop, flushing any buffered records, then closes
// the database handle.
func (s *Sink) Close() error {
	close(s.stop)
	<-s.done
	return s.db.Close()
}

// DroppedCount returns how many records were dropped due to a full buffer.
func (s *Sink) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// NoopSink discards every record; used when audit.enabled=false.
type NoopSink struct{}

func (NoopSink) Record(kind, requestID, tool, status, detail string) {}
