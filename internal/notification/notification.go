package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Severity classifies a user-facing message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Message describes a notification payload.
type Message struct {
	Severity Severity
	// Kind is the action the message is about (approve, deposit, withdraw).
	Kind string
	Body string
	At   time.Time
}

// Notifier delivers notifications to downstream systems. Callers treat Send as
// fire-and-forget.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "severity", string(message.Severity), "kind", message.Kind, "body", message.Body)
	return nil
}

// Feed keeps the most recent messages in memory so a UI can poll them.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	items    []Entry
	seq      uint64
}

// Entry is a message with its position in the feed.
type Entry struct {
	Seq uint64
	Message
}

// NewFeed creates a feed retaining at most capacity messages.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 100
	}
	return &Feed{capacity: capacity}
}

// Send appends the message, evicting the oldest when full.
func (f *Feed) Send(_ context.Context, message Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if len(f.items) == f.capacity {
		copy(f.items, f.items[1:])
		f.items = f.items[:len(f.items)-1]
	}
	f.items = append(f.items, Entry{Seq: f.seq, Message: message})
	return nil
}

// Since returns retained entries with a sequence number greater than after, oldest first.
func (f *Feed) Since(after uint64) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, 0, len(f.items))
	for _, e := range f.items {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans a message out to every notifier. It returns the first error but
// always attempts all of them.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
