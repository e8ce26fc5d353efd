package metrics

import (
	"time"

	"github.com/franksops/ftpxfer/engine"
)

type multi []engine.MetricsCollector

// Multi fans every event out to each non-nil collector. It returns nil when
// none is left.
func Multi(collectors ...engine.MetricsCollector) engine.MetricsCollector {
	var m multi
	for _, c := range collectors {
		if c != nil {
			m = append(m, c)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

func (m multi) RecordFile(direction string, success bool, bytes int64, duration time.Duration) {
	for _, c := range m {
		c.RecordFile(direction, success, bytes, duration)
	}
}

func (m multi) RecordBatch(direction string, success bool, files int, duration time.Duration) {
	for _, c := range m {
		c.RecordBatch(direction, success, files, duration)
	}
}

func (m multi) RecordReconnect(side string, success bool) {
	for _, c := range m {
		c.RecordReconnect(side, success)
	}
}
