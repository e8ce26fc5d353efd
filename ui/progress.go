package ui

import (
	"sync"
	"time"

	"github.com/franksops/ftpxfer/engine"
)

// BatchPhase is where a batch is in its lifecycle.
type BatchPhase int

const (
	BatchQueued BatchPhase = iota
	BatchRunning
	BatchSucceeded
	BatchFailed
)

func (p BatchPhase) String() string {
	switch p {
	case BatchRunning:
		return "running"
	case BatchSucceeded:
		return "done"
	case BatchFailed:
		return "failed"
	default:
		return "queued"
	}
}

// BatchStatus is the TUI view of one batch.
type BatchStatus struct {
	Name        string
	Direction   string
	Phase       BatchPhase
	Transferred int
	Failed      int
	Message     string
	Started     time.Time
	Finished    time.Time
}

// Progress collects batch and file events from the workers. It is safe for
// concurrent use. File events arrive through engine.MetricsCollector.
type Progress struct {
	mu      sync.Mutex
	state   UIState
	index   map[string]int
	started time.Time
	now     func() time.Time
}

var _ engine.MetricsCollector = (*Progress)(nil)

// NewProgress creates a Progress with the given worker limits.
func NewProgress(activeWorkers, maxWorkers int) *Progress {
	return &Progress{
		state: UIState{
			ActiveWorkers: activeWorkers,
			MaxWorkers:    maxWorkers,
			IsRunning:     true,
		},
		index:   make(map[string]int),
		started: time.Now(),
		now:     time.Now,
	}
}

// Queue registers a batch before it runs.
func (p *Progress) Queue(name, direction string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[name]; ok {
		return
	}
	p.index[name] = len(p.state.Batches)
	p.state.Batches = append(p.state.Batches, BatchStatus{Name: name, Direction: direction})
}

// Start marks a batch as running.
func (p *Progress) Start(name string) {
	p.update(name, func(b *BatchStatus) {
		b.Phase = BatchRunning
		b.Started = p.now()
	})
}

// Finish records the result of a batch.
func (p *Progress) Finish(name string, result *engine.BatchResult, err error) {
	p.update(name, func(b *BatchStatus) {
		b.Finished = p.now()
		b.Phase = BatchSucceeded
		if result != nil {
			b.Transferred = result.SuccessfulTransferCount
			b.Failed = result.FailedTransferCount
			b.Message = result.UserResultMessage
			if !result.Success {
				b.Phase = BatchFailed
			}
		}
		if err != nil {
			b.Phase = BatchFailed
			b.Message = err.Error()
		}
	})
}

// SetWorkers updates the worker counts shown in the header.
func (p *Progress) SetWorkers(active, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ActiveWorkers = active
	p.state.MaxWorkers = max
}

// SetDone marks the whole run as finished.
func (p *Progress) SetDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Done = true
	p.state.IsRunning = false
}

func (p *Progress) RecordFile(direction string, success bool, bytes int64, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.state.CompletedFiles++
		p.state.CompletedBytes += bytes
	} else {
		p.state.FailedFiles++
	}
	if elapsed := p.now().Sub(p.started).Milliseconds(); elapsed > 0 {
		p.state.ThroughputBPms = float64(p.state.CompletedBytes) / float64(elapsed)
	}
}

func (p *Progress) RecordBatch(direction string, success bool, files int, duration time.Duration) {}

func (p *Progress) RecordReconnect(side string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Reconnects++
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() UIState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Batches = append([]BatchStatus(nil), p.state.Batches...)
	s.Elapsed = p.now().Sub(p.started)
	return s
}

func (p *Progress) update(name string, fn func(*BatchStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[name]
	if !ok {
		i = len(p.state.Batches)
		p.index[name] = i
		p.state.Batches = append(p.state.Batches, BatchStatus{Name: name})
	}
	fn(&p.state.Batches[i])
}
