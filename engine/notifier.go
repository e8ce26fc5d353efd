package engine

import (
	"time"

	"github.com/franksops/ftpxfer/translog"
)

// Notifier receives the notifications of a batch. translog.TransferLog is
// the implementation used by Transporter.
type Notifier interface {
	NotifyError(context, message string, err error)
	NotifyInformation(context, message string)
	NotifyTrace(message string)
	LogTransferSuccess(t translog.Transfer, message string)
	LogTransferFailed(t translog.Transfer, message string, err error)
}

var _ Notifier = (*translog.TransferLog)(nil)

// MetricsCollector is an optional interface for collecting transfer metrics.
// Implementations must be safe for concurrent use since batches may run in
// parallel.
type MetricsCollector interface {
	// RecordFile records one file transfer. direction is "upload" or
	// "download".
	RecordFile(direction string, success bool, bytes int64, duration time.Duration)

	// RecordBatch records a finished batch.
	RecordBatch(direction string, success bool, files int, duration time.Duration)

	// RecordReconnect records an attempt to re-establish a dropped session.
	RecordReconnect(side string, success bool)
}
