package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentforge/core/pkg/config"
)

// Logger buffers entries up to max_buffer_size, flushing on overflow or
// at flush_interval, and writes every flush to a rotating JSON-lines file
// plus any configured syslog/Postgres destinations. Sequence numbers are
// a single monotonic counter per node (spec.md §8 property 7): gap-free,
// starting at 1.
type Logger struct {
	node           string
	checksumSecret []byte
	maxBufferSize  int
	dir            string

	syslogWriter *syslog.Writer
	mirror       Mirror

	mu        sync.Mutex
	buffer    []Entry
	closed    bool
	curDay    string
	file      *os.File
	errorCount uint64

	seq uint64
}

// Option configures optional Logger destinations.
type Option func(*Logger)

// WithMirror attaches an optional durable mirror (e.g. Postgres-backed).
func WithMirror(m Mirror) Option { return func(l *Logger) { l.mirror = m } }

// NewLogger constructs a Logger writing rotating files under cfg.Dir,
// using checksumSecret for entry HMACs. If cfg.SyslogEnabled, a syslog
// writer is dialed eagerly; a dial failure is returned, not swallowed,
// since an operator explicitly asked for that destination.
func NewLogger(node string, checksumSecret []byte, cfg *config.AuditConfig, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDir, err)
	}

	l := &Logger{
		node:           node,
		checksumSecret: checksumSecret,
		maxBufferSize:  cfg.MaxBufferSize,
		dir:            cfg.Dir,
	}

	if cfg.SyslogEnabled {
		w, err := syslog.Dial(cfg.SyslogNetwork, cfg.SyslogAddr, syslog.LOG_INFO|syslog.LOG_DAEMON, "agentforge-audit")
		if err != nil {
			return nil, fmt.Errorf("dialing syslog: %w", err)
		}
		l.syslogWriter = w
	}

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LogAsync buffers an entry without blocking on disk I/O, except when the
// buffer is full: overflow triggers an immediate synchronous flush, per
// spec.md §7's backpressure policy, to bound buffer growth.
func (l *Logger) LogAsync(eventType, principalID string, details map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.appendLocked(eventType, principalID, details)
	if len(l.buffer) >= l.maxBufferSize {
		if err := l.flushLocked(); err != nil {
			atomic.AddUint64(&l.errorCount, 1)
			slog.Error("audit: overflow flush failed", "error", err)
		}
	}
}

// LogSync buffers an entry and flushes immediately, returning any flush
// error to the caller.
func (l *Logger) LogSync(eventType, principalID string, details map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLoggerClosed
	}
	l.appendLocked(eventType, principalID, details)
	err := l.flushLocked()
	if err != nil {
		atomic.AddUint64(&l.errorCount, 1)
	}
	return err
}

func (l *Logger) appendLocked(eventType, principalID string, details map[string]any) {
	seq := atomic.AddUint64(&l.seq, 1)
	e := Entry{
		Sequence:    seq,
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		Details:     details,
		Node:        l.node,
	}
	e.Checksum = checksum(l.checksumSecret, e)
	l.buffer = append(l.buffer, e)
}

// Flush writes every buffered entry to every configured destination and
// clears the buffer. Intended to be called periodically at flush_interval
// by an external scheduler (pkg/recovery's cron-driven ticks).
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.flushLocked()
	if err != nil {
		atomic.AddUint64(&l.errorCount, 1)
	}
	return err
}

func (l *Logger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}
	entries := l.buffer
	l.buffer = nil

	if err := l.writeFileLocked(entries); err != nil {
		return fmt.Errorf("writing audit file: %w", err)
	}

	if l.syslogWriter != nil {
		for _, e := range entries {
			line, _ := json.Marshal(e)
			if _, err := l.syslogWriter.Write(line); err != nil {
				slog.Warn("audit: syslog write failed", "error", err)
			}
		}
	}

	if l.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.mirror.InsertEntries(ctx, entries); err != nil {
			slog.Warn("audit: mirror insert failed", "error", err)
		}
	}

	return nil
}

func (l *Logger) writeFileLocked(entries []Entry) error {
	day := entries[len(entries)-1].Timestamp.Format("2006-01-02")
	if l.file == nil || day != l.curDay {
		if l.file != nil {
			l.file.Close()
		}
		path := filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", day))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.file, l.curDay = f, day
	}

	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := l.file.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// VerifyIntegrity recomputes the checksum of every currently buffered
// (not yet flushed) entry and returns how many no longer match.
func (l *Logger) VerifyIntegrity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	tampered := 0
	for _, e := range l.buffer {
		want := e.Checksum
		e.Checksum = ""
		if checksum(l.checksumSecret, e) != want {
			tampered++
		}
	}
	return tampered
}

// ErrorCount returns the number of flush failures observed so far, fed
// into the metrics collector's health score (spec.md §4.15, 10% weight).
func (l *Logger) ErrorCount() uint64 {
	return atomic.LoadUint64(&l.errorCount)
}

// Close flushes any remaining entries and releases file/syslog handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	err := l.flushLocked()
	if l.file != nil {
		l.file.Close()
	}
	if l.syslogWriter != nil {
		l.syslogWriter.Close()
	}
	return err
}
