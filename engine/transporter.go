package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/franksops/ftpxfer/naming"
	"github.com/franksops/ftpxfer/provider"
	"github.com/franksops/ftpxfer/translog"
	"github.com/google/uuid"
)

// DefaultErrorLogLines is how many operations log lines a BatchError carries.
const DefaultErrorLogLines = 20

// SessionFactory returns the sessions of the two sides of a batch. Run
// connects them when needed and always disconnects them before returning.
type SessionFactory func(req *TransferRequest) (source, destination provider.Session, err error)

// Transporter runs transfer batches. A Transporter may run several batches
// concurrently; each batch uses its own sessions.
type Transporter struct {
	sessions SessionFactory
	logger   *slog.Logger
	tracker  *JobTracker
	metrics  MetricsCollector
	buffers  *BufferPool
	newGUID  func() uuid.UUID
	now      func() time.Time

	errorLogLines int
}

// NewTransporter creates a Transporter. A nil logger discards output.
func NewTransporter(sessions SessionFactory, logger *slog.Logger) *Transporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transporter{
		sessions:      sessions,
		logger:        logger,
		buffers:       NewBufferPool(DefaultBufferSize),
		newGUID:       uuid.New,
		now:           time.Now,
		errorLogLines: DefaultErrorLogLines,
	}
}

// WithTracker records every transferred file in jt.
func (t *Transporter) WithTracker(jt *JobTracker) *Transporter {
	t.tracker = jt
	return t
}

// WithMetrics reports transfers to m.
func (t *Transporter) WithMetrics(m MetricsCollector) *Transporter {
	t.metrics = m
	return t
}

// WithBufferPool shares a buffer pool between transporters.
func (t *Transporter) WithBufferPool(bp *BufferPool) *Transporter {
	t.buffers = bp
	return t
}

// WithClock overrides the time macros are expanded against.
func (t *Transporter) WithClock(now func() time.Time) *Transporter {
	t.now = now
	return t
}

// WithGUIDs overrides the generator of transfer ids, %Guid% values and
// temporary names.
func (t *Transporter) WithGUIDs(newGUID func() uuid.UUID) *Transporter {
	t.newGUID = newGUID
	return t
}

// Run transfers the files of one batch and always returns a result.
//
// The error is non-nil when the request is invalid (ErrConfiguration), when
// ctx was cancelled before every file was processed (ErrCancelled), and, if
// the request sets ThrowErrorOnFail, for any failed batch (*BatchError).
// Otherwise failures are only reported through the result.
func (t *Transporter) Run(ctx context.Context, req *TransferRequest) (*BatchResult, error) {
	r := *req
	if r.TransferID == uuid.Nil {
		r.TransferID = t.newGUID()
	}
	start := t.now()
	if r.BatchStartTime.IsZero() {
		r.BatchStartTime = start
	}

	logger := t.logger.With(
		"transfer_name", r.TransferName,
		"transfer_id", r.TransferID.String(),
		"direction", r.Direction.String(),
	)
	tlog := translog.New(logger, r.Options.OperationLog)
	defer tlog.Close()

	b := &batch{t: t, req: &r, notifier: tlog}
	result, err := b.run(ctx)
	result.OperationsLog = tlog.Entries()

	if t.metrics != nil {
		t.metrics.RecordBatch(r.Direction.String(), result.Success,
			result.SuccessfulTransferCount+result.FailedTransferCount, time.Since(start))
	}
	logger.Info("transfer batch finished",
		"success", result.Success,
		"transferred", result.SuccessfulTransferCount,
		"failed", result.FailedTransferCount,
		"cancelled", result.Cancelled)

	if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrCancelled) {
		return result, err
	}
	if !result.Success && r.Options.ThrowErrorOnFail {
		return result, &BatchError{
			Message: result.UserResultMessage,
			Log:     tlog.Latest(t.errorLogLines),
			Err:     err,
		}
	}
	return result, nil
}

// batch is the state of one Run.
type batch struct {
	t        *Transporter
	req      *TransferRequest
	notifier Notifier
	expander *naming.Expander

	source provider.Session
	dest   provider.Session

	sourceDir string
	destDir   string
	workDir   string
}

func (b *batch) run(ctx context.Context) (*BatchResult, error) {
	req := b.req
	if err := req.Validate(); err != nil {
		b.notifier.NotifyError(req.TransferName, "invalid transfer configuration", err)
		return fatalResult(err), err
	}
	if err := b.expandDirectories(); err != nil {
		b.notifier.NotifyError(req.TransferName, "invalid transfer configuration", err)
		return fatalResult(err), err
	}

	var err error
	b.source, b.dest, err = b.t.sessions(req)
	if err != nil {
		return b.fatal(ctx, fmt.Errorf("%w: %w", ErrConnection, err))
	}
	defer b.disconnect(b.dest, "destination")
	defer b.disconnect(b.source, "source")

	if err := b.connect(ctx, b.source, "source"); err != nil {
		return b.fatal(ctx, err)
	}
	files, err := NewResolver(b.source).Resolve(ctx, b.sourceDir, req.Source)
	if err != nil {
		return b.fatal(ctx, err)
	}
	b.trace("found %d source files in %s", len(files), b.sourceDir)
	if len(files) == 0 {
		return b.noFiles()
	}

	if err := b.connect(ctx, b.dest, "destination"); err != nil {
		return b.fatal(ctx, err)
	}
	if err := b.prepareDestination(ctx); err != nil {
		return b.fatal(ctx, err)
	}

	outcomes := make([]SingleTransferOutcome, 0, len(files))
	for i, entry := range files {
		if ctx.Err() != nil {
			return b.cancelled(ctx, outcomes, len(files)-i)
		}
		outcome, err := b.transfer(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return b.cancelled(ctx, outcomes, len(files)-i)
			}
			return b.fatal(ctx, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return foldOutcomes(outcomes), nil
}

func (b *batch) expandDirectories() error {
	req := b.req
	b.expander = naming.NewExpander(naming.Context{
		Now:          req.BatchStartTime,
		TransferName: req.TransferName,
		TransferID:   req.TransferID,
		NewGUID:      b.t.newGUID,
	})

	var err error
	if b.sourceDir, err = b.expander.ExpandDirectory(req.Source.Directory); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if b.destDir, err = b.expander.ExpandDirectory(req.Destination.Directory); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if b.workDir, err = b.expander.ExpandDirectory(req.Options.SourceWorkDirectory); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// transfer runs one file. The error is only set when the batch cannot go on
// or was cancelled before the file started. A file that has started runs to
// completion even if ctx is cancelled meanwhile.
func (b *batch) transfer(ctx context.Context, entry FileEntry) (SingleTransferOutcome, error) {
	for _, side := range []struct {
		name    string
		session provider.Session
	}{{"source", b.source}, {"destination", b.dest}} {
		fatal, err := b.ensureConnected(ctx, side.session, side.name)
		if fatal || (err != nil && ctx.Err() != nil) {
			return SingleTransferOutcome{}, err
		}
		if err != nil {
			return b.failedBeforeStart(entry, err), nil
		}
	}
	return newFileTransfer(b, entry).run(context.WithoutCancel(ctx)), nil
}

func (b *batch) connect(ctx context.Context, s provider.Session, side string) error {
	b.trace("connecting %s", side)
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, side, err)
	}
	return nil
}

// ensureConnected re-establishes a dropped session. fatal is set when the
// reconnect failed at the transport level.
func (b *batch) ensureConnected(ctx context.Context, s provider.Session, side string) (fatal bool, err error) {
	if s.Connected(ctx) {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.notifier.NotifyInformation(b.req.TransferName, side+" connection lost, reconnecting")
	_ = s.Disconnect()
	err = s.Connect(ctx)
	if b.t.metrics != nil {
		b.t.metrics.RecordReconnect(side, err == nil)
	}
	if err != nil {
		err = fmt.Errorf("%w: reconnecting %s: %w", ErrConnection, side, err)
		return provider.IsTransportError(err), err
	}
	if side == "destination" {
		if err := s.ChangeDir(ctx, b.destDir); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (b *batch) disconnect(s provider.Session, side string) {
	if err := s.Disconnect(); err != nil {
		b.trace("disconnecting %s: %v", side, err)
	}
}

func (b *batch) prepareDestination(ctx context.Context) error {
	dir := b.destDir
	info, err := b.dest.Stat(ctx, dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%w: destination %q is not a directory", ErrDirectoryNotFound, dir)
	case errors.Is(err, fs.ErrNotExist):
		if !b.req.Options.CreateDestinationDirectories {
			return fmt.Errorf("%w: destination directory %q", ErrDirectoryNotFound, dir)
		}
		b.trace("creating destination directory %s", dir)
		if err := b.dest.MkdirAll(ctx, dir); err != nil {
			return fmt.Errorf("failed to create destination directory %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("failed to stat destination directory %s: %w", dir, err)
	}
	if err := b.dest.ChangeDir(ctx, dir); err != nil {
		return err
	}
	if naming.IsAbs(dir) {
		return nil
	}
	// Destination paths are joined onto destDir, so pin it to the absolute
	// directory we just changed into.
	cwd, err := b.dest.CurrentDir(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve destination directory %s: %w", dir, err)
	}
	b.destDir = cwd
	return nil
}

func (b *batch) noFiles() (*BatchResult, error) {
	msg := fmt.Sprintf("no files matching %q found in %s", b.req.Source.FileNameMask, b.sourceDir)
	skipped := SingleTransferOutcome{Success: true, ActionSkipped: true}

	switch b.req.Source.NotFoundAction {
	case NotFoundInfo:
		b.notifier.NotifyInformation(b.req.TransferName, msg)
		return foldOutcomes([]SingleTransferOutcome{skipped}), nil
	case NotFoundIgnore:
		return foldOutcomes([]SingleTransferOutcome{skipped}), nil
	}

	err := fmt.Errorf("%w: %s", ErrNoSourceFiles, msg)
	b.notifier.NotifyError(b.req.TransferName, "no source files", err)
	skipped.Success = false
	skipped.ErrorMessages = []string{err.Error()}
	return foldOutcomes([]SingleTransferOutcome{skipped}), err
}

func (b *batch) failedBeforeStart(entry FileEntry, err error) SingleTransferOutcome {
	terr := &TransferError{
		State:          StateCheckDestinationExists,
		FileName:       entry.Name,
		DestinationDir: b.destDir,
		Err:            err,
	}
	b.notifier.LogTransferFailed(translog.Transfer{
		TransferName: b.req.TransferName,
		TransferID:   b.req.TransferID.String(),
		FileName:     entry.Name,
		SourcePath:   entry.FullPath,
	}, "transfer failed", terr)
	b.recordFile(false, 0, 0)
	return SingleTransferOutcome{
		TransferredFileName: entry.Name,
		TransferredFilePath: entry.FullPath,
		ErrorMessages:       []string{terr.Error()},
	}
}

func (b *batch) fatal(ctx context.Context, err error) (*BatchResult, error) {
	if ctx.Err() != nil {
		return b.cancelled(ctx, nil, 0)
	}
	b.notifier.NotifyError(b.req.TransferName, "transfer aborted", err)
	return fatalResult(err), err
}

func (b *batch) cancelled(ctx context.Context, outcomes []SingleTransferOutcome, remaining int) (*BatchResult, error) {
	r := foldOutcomes(outcomes)
	r.Cancelled = true
	if remaining > 0 || len(outcomes) == 0 {
		r.Success = false
		r.UserResultMessage += fmt.Sprintf("\nTransfer cancelled, %d files not processed.", remaining)
	}
	b.notifier.NotifyInformation(b.req.TransferName, "transfer cancelled")
	return r, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

func (b *batch) recordFile(success bool, bytes int64, d time.Duration) {
	if b.t.metrics != nil {
		b.t.metrics.RecordFile(b.req.Direction.String(), success, bytes, d)
	}
}

func (b *batch) trace(format string, args ...any) {
	b.notifier.NotifyTrace(fmt.Sprintf(format, args...))
}

func (b *batch) tempFileName() string {
	return tempName(b.t.newGUID().String())
}
