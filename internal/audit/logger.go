// Package audit records every element operation the service performs and
// serves the records to queries and live subscribers.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status values of an entry.
const (
	StatusOK     = "OK"
	StatusDenied = "DENIED"
	StatusFault  = "FAULT"
	StatusError  = "ERROR"
)

// Entry is one audit record. FaultCode carries the element status code when
// Status is StatusFault.
type Entry struct {
	ID          string            `json:"id" yaml:"id"`
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	Operation   string            `json:"operation" yaml:"operation"`
	Slot        string            `json:"slot,omitempty" yaml:"slot,omitempty"`
	Kind        string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	Status      string            `json:"status" yaml:"status"`
	FaultCode   string            `json:"fault_code,omitempty" yaml:"fault_code,omitempty"`
	PeerAddress string            `json:"peer_address,omitempty" yaml:"peer_address,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Filter selects entries in Query. Zero fields match everything; Limit 0
// means no limit.
type Filter struct {
	Slot      string
	Operation string
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (f Filter) match(e Entry) bool {
	if f.Slot != "" && e.Slot != f.Slot {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Subscriber receives audit entries via a channel.
type Subscriber struct {
	C  chan Entry
	id string
}

// Config configures a Logger. Retention bounds the number of entries kept
// for Query; the oldest are dropped first.
type Config struct {
	BufferSize int
	Retention  int
	Out        io.Writer
	Logger     *slog.Logger
}

// Logger is an async audit logger that decouples the critical path from log writes.
type Logger struct {
	entries chan Entry
	out     io.Writer
	log     *slog.Logger
	keep    int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	// store is a ring of at most keep entries; head is the oldest once full.
	store []Entry
	head  int

	sendMu sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewLogger(cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Logger{
		entries:     make(chan Entry, cfg.BufferSize),
		out:         cfg.Out,
		log:         cfg.Logger,
		keep:        cfg.Retention,
		subscribers: make(map[string]*Subscriber),
		done:        make(chan struct{}),
	}
	go l.processLoop()
	return l
}

// Log stamps e with an id and time and queues it. It never blocks; when the
// buffer is full or the logger is closed the entry is dropped with a warning.
func (l *Logger) Log(e Entry) {
	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		l.log.Warn("audit log closed, dropping entry", "operation", e.Operation, "slot", e.Slot)
		return
	}
	select {
	case l.entries <- e:
	default:
		l.log.Warn("audit log buffer full, dropping entry", "operation", e.Operation, "slot", e.Slot)
	}
}

// Subscribe creates a new subscriber that receives entries via a buffered channel.
func (l *Logger) Subscribe() *Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := &Subscriber{
		C:  make(chan Entry, 64),
		id: uuid.NewString(),
	}
	l.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Repeated calls are
// no-ops.
func (l *Logger) Unsubscribe(sub *Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.subscribers[sub.id]; !ok {
		return
	}
	delete(l.subscribers, sub.id)
	close(sub.C)
}

// Query returns stored entries matching f, newest first.
func (l *Logger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for i := len(l.store) - 1; i >= 0; i-- {
		e := l.store[(l.head+i)%len(l.store)]
		if !f.match(e) {
			continue
		}
		results = append(results, e)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results
}

// Close stops the processing loop after draining queued entries. Entries
// logged after Close are dropped.
func (l *Logger) Close() {
	l.sendMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.sendMu.Unlock()
	<-l.done
}

func (l *Logger) processLoop() {
	defer close(l.done)

	var enc *json.Encoder
	if l.out != nil {
		enc = json.NewEncoder(l.out)
	}

	for entry := range l.entries {
		l.mu.Lock()
		if len(l.store) < l.keep {
			l.store = append(l.store, entry)
		} else {
			l.store[l.head] = entry
			l.head = (l.head + 1) % l.keep
		}
		l.mu.Unlock()

		if enc != nil {
			if err := enc.Encode(entry); err != nil {
				l.log.Error("audit write", "error", err)
			}
		}

		// Fan-out to subscribers (non-blocking)
		l.mu.RLock()
		for _, sub := range l.subscribers {
			select {
			case sub.C <- entry:
			default:
				// subscriber too slow, drop
			}
		}
		l.mu.RUnlock()
	}

	l.mu.Lock()
	for id, sub := range l.subscribers {
		delete(l.subscribers, id)
		close(sub.C)
	}
	l.mu.Unlock()
}
