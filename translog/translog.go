// Package translog records the notifications of a transfer batch. Every
// notification goes to a slog.Logger and is also kept in an operations log
// that is returned with the batch result.
package translog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Transfer identifies the file a transfer notification is about.
type Transfer struct {
	TransferName    string
	TransferID      string
	FileName        string
	SourcePath      string
	DestinationPath string
}

func (t Transfer) attrs() []any {
	return []any{
		"transfer_name", t.TransferName,
		"transfer_id", t.TransferID,
		"file", t.FileName,
		"source", t.SourcePath,
		"destination", t.DestinationPath,
	}
}

// TransferLog is the notification sink of one batch. It is safe for
// concurrent use and must be closed when the batch is done.
type TransferLog struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	keepAll bool
	all     []Entry
	ring    *Ring
	closed  bool
}

// Option configures a TransferLog.
type Option func(*TransferLog)

// WithClock overrides the time source of log entries.
func WithClock(now func() time.Time) Option {
	return func(l *TransferLog) {
		l.now = now
	}
}

// WithRingSize overrides the head and tail sizes of the bounded log.
func WithRingSize(head, tail int) Option {
	return func(l *TransferLog) {
		l.ring = NewRing(head, tail)
	}
}

// New creates a TransferLog. With keepAll every entry is retained, otherwise
// only the first and the most recent entries are. A nil logger discards
// output.
func New(logger *slog.Logger, keepAll bool, opts ...Option) *TransferLog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &TransferLog{
		logger:  logger,
		now:     time.Now,
		keepAll: keepAll,
		ring:    NewRing(DefaultHeadSize, DefaultTailSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TransferLog) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	e := Entry{Time: l.now(), Message: msg}
	if l.keepAll {
		l.all = append(l.all, e)
		return
	}
	l.ring.Add(e)
}

// NotifyError reports a failure outside a single file transfer.
func (l *TransferLog) NotifyError(context, message string, err error) {
	l.logger.Error(message, "context", context, "error", err)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	l.record(fmt.Sprintf("ERROR [%s] %s", context, message))
}

// NotifyInformation reports a notable event that is not a failure.
func (l *TransferLog) NotifyInformation(context, message string) {
	l.logger.Info(message, "context", context)
	l.record(fmt.Sprintf("INFO [%s] %s", context, message))
}

// NotifyTrace records a step of the transfer.
func (l *TransferLog) NotifyTrace(message string) {
	l.logger.Debug(message)
	l.record(message)
}

// LogTransferSuccess records a completed file transfer.
func (l *TransferLog) LogTransferSuccess(t Transfer, message string) {
	l.logger.Info(message, t.attrs()...)
	l.record(fmt.Sprintf("SUCCESS %s -> %s: %s", t.SourcePath, t.DestinationPath, message))
}

// LogTransferFailed records a failed file transfer.
func (l *TransferLog) LogTransferFailed(t Transfer, message string, err error) {
	l.logger.Error(message, append(t.attrs(), "error", err)...)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	l.record(fmt.Sprintf("FAILED %s -> %s: %s", t.SourcePath, t.DestinationPath, message))
}

// Entries returns the retained operations log in order.
func (l *TransferLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keepAll {
		return append([]Entry(nil), l.all...)
	}
	return l.ring.Entries()
}

// Dropped returns how many entries the bounded log evicted.
func (l *TransferLog) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keepAll {
		return 0
	}
	return l.ring.Dropped()
}

// Latest returns the newest n entries formatted as text lines, oldest first.
func (l *TransferLog) Latest(n int) []string {
	entries := l.Entries()
	if n >= 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Time.Format(time.RFC3339Nano) + " " + e.Message
	}
	return lines
}

// Close stops the log from retaining further entries. Notifications after
// Close still reach the logger. Close is idempotent.
func (l *TransferLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
