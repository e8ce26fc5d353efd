package engine

import (
	"io"
	"sync"
	"time"

	"github.com/franksops/ftpxfer/store"
	"github.com/google/uuid"
)

// CheckpointConfig defines the criteria for when to save a file's progress
type CheckpointConfig struct {
	// BytesInterval triggers a save after this many bytes have been transferred
	BytesInterval int64
	// TimeInterval triggers a save after this much time has passed
	TimeInterval time.Duration
}

// DefaultCheckpointConfig provides reasonable defaults for checkpointing
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 10 * 1024 * 1024, // 10 MB
	TimeInterval:  5 * time.Second,
}

// JobTracker keeps one store record per transferred file, so the progress
// and the outcome of every batch can be inspected after the fact.
type JobTracker struct {
	store  store.Store
	config CheckpointConfig
}

// NewJobTracker creates a new JobTracker
func NewJobTracker(store store.Store, config CheckpointConfig) *JobTracker {
	return &JobTracker{
		store:  store,
		config: config,
	}
}

// RecordID returns the store key of a source file within a batch.
func RecordID(transferID uuid.UUID, sourcePath string) string {
	return BatchPrefix(transferID) + sourcePath
}

// BatchPrefix returns the key prefix shared by all records of a batch.
func BatchPrefix(transferID uuid.UUID) string {
	return transferID.String() + "/"
}

// InitFile stores a pending record for entry.
func (jt *JobTracker) InitFile(req *TransferRequest, entry FileEntry, destinationPath string) (string, error) {
	id := RecordID(req.TransferID, entry.FullPath)
	record := &store.JobRecord{
		ID:              id,
		BatchID:         req.TransferID.String(),
		TransferName:    req.TransferName,
		SourcePath:      entry.FullPath,
		DestinationPath: destinationPath,
		State:           store.StatePending,
		TotalBytes:      entry.Size,
	}
	return id, jt.store.SaveJob(record)
}

// MarkInProgress updates a file's state to InProgress
func (jt *JobTracker) MarkInProgress(id string) error {
	record, err := jt.store.GetJob(id)
	if err != nil {
		return err
	}
	record.State = store.StateInProgress
	return jt.store.SaveJob(record)
}

// MarkCompleted records the final byte count and checksum of a file.
func (jt *JobTracker) MarkCompleted(id string, bytes int64, checksum uint64) error {
	record, err := jt.store.GetJob(id)
	if err != nil {
		return err
	}
	record.State = store.StateCompleted
	record.BytesTransferred = bytes
	if record.TotalBytes < bytes {
		record.TotalBytes = bytes
	}
	record.Checksum = checksum
	record.Error = ""
	return jt.store.SaveJob(record)
}

// MarkFailed updates a file's state to Failed with an error message
func (jt *JobTracker) MarkFailed(id string, err error) error {
	record, getErr := jt.store.GetJob(id)
	if getErr != nil {
		return getErr
	}
	record.State = store.StateFailed
	if err != nil {
		record.Error = err.Error()
	}
	return jt.store.SaveJob(record)
}

// Records returns the stored records of a batch.
func (jt *JobTracker) Records(transferID uuid.UUID) ([]*store.JobRecord, error) {
	return jt.store.ListJobs(BatchPrefix(transferID))
}

// TrackedWriter wraps an io.Writer to track bytes written and checkpoint progress
type TrackedWriter struct {
	io.Writer
	tracker *JobTracker
	id      string

	mu              sync.Mutex
	bytesWritten    int64
	lastCheckpoint  int64
	lastCheckpointT time.Time
}

// NewTrackedWriter creates a new TrackedWriter
func (jt *JobTracker) NewTrackedWriter(w io.Writer, id string, startBytes int64) *TrackedWriter {
	return &TrackedWriter{
		Writer:          w,
		tracker:         jt,
		id:              id,
		bytesWritten:    startBytes,
		lastCheckpoint:  startBytes,
		lastCheckpointT: time.Now(),
	}
}

// Write implements io.Writer and checkpoints progress
func (tw *TrackedWriter) Write(p []byte) (int, error) {
	n, err := tw.Writer.Write(p)
	if n > 0 {
		tw.mu.Lock()
		tw.bytesWritten += int64(n)

		needsCheckpoint := false
		if tw.bytesWritten-tw.lastCheckpoint >= tw.tracker.config.BytesInterval {
			needsCheckpoint = true
		} else if time.Since(tw.lastCheckpointT) >= tw.tracker.config.TimeInterval {
			needsCheckpoint = true
		}

		currentBytes := tw.bytesWritten
		tw.mu.Unlock()

		if needsCheckpoint {
			tw.checkpoint(currentBytes)
		}
	}
	return n, err
}

func (tw *TrackedWriter) checkpoint(bytes int64) {
	record, err := tw.tracker.store.GetJob(tw.id)
	if err == nil {
		record.BytesTransferred = bytes
		// a lost checkpoint only costs progress reporting
		_ = tw.tracker.store.SaveJob(record)

		tw.mu.Lock()
		tw.lastCheckpoint = bytes
		tw.lastCheckpointT = time.Now()
		tw.mu.Unlock()
	}
}

// BytesWritten returns the total number of bytes written
func (tw *TrackedWriter) BytesWritten() int64 {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten
}
