package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/franksops/ftpxfer/naming"
	"github.com/franksops/ftpxfer/provider"
	"github.com/franksops/ftpxfer/translog"
)

// TransferState names the step a file transfer is in.
type TransferState int

const (
	StateCheckDestinationExists TransferState = iota
	StateRenameSourceFileBeforeTransfer
	StatePutOrAppendOrError
	StateRestoreLastModified
	StateExecuteSourceOperation
	StateCleanupTemporaryFiles
	StateRestoreSourceFile
)

var stateNames = [...]string{
	StateCheckDestinationExists:         "CheckDestinationExists",
	StateRenameSourceFileBeforeTransfer: "RenameSourceFileBeforeTransfer",
	StatePutOrAppendOrError:             "PutOrAppendOrError",
	StateRestoreLastModified:            "RestoreLastModified",
	StateExecuteSourceOperation:         "ExecuteSourceOperation",
	StateCleanupTemporaryFiles:          "CleanupTemporaryFiles",
	StateRestoreSourceFile:              "RestoreSourceFile",
}

func (s TransferState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
	return stateNames[s]
}

type closeWithError interface {
	CloseWithError(err error) error
}

// fileTransfer moves one file and applies its source operation, using the
// sessions of its batch.
type fileTransfer struct {
	batch *batch
	entry FileEntry
	state TransferState

	destPath     string
	destTempPath string

	// sourcePath is where the source file is right now. sourceTemp is set
	// while that is a temporary name.
	sourcePath string
	sourceTemp bool

	recordID string
	bytes    int64
	checksum uint64
}

func newFileTransfer(b *batch, entry FileEntry) *fileTransfer {
	return &fileTransfer{
		batch:      b,
		entry:      entry,
		sourcePath: entry.FullPath,
	}
}

// run never returns an error: every failure is isolated in the outcome.
func (ft *fileTransfer) run(ctx context.Context) SingleTransferOutcome {
	b := ft.batch
	start := time.Now()
	outcome := SingleTransferOutcome{
		TransferredFileName: ft.entry.Name,
		TransferredFilePath: ft.entry.FullPath,
	}

	err := ft.execute(ctx)

	// Recovery must run even when the batch was cancelled mid-file.
	cleanupCtx := context.WithoutCancel(ctx)
	if err != nil {
		terr := &TransferError{
			State:          ft.state,
			FileName:       ft.entry.Name,
			DestinationDir: b.destDir,
			Err:            err,
		}
		ft.restoreSource(cleanupCtx)
		ft.cleanup(cleanupCtx)

		outcome.ErrorMessages = []string{terr.Error()}
		b.notifier.LogTransferFailed(ft.describe(), "transfer failed", terr)
		ft.track(func(jt *JobTracker) error { return jt.MarkFailed(ft.recordID, terr) })
		b.recordFile(false, ft.bytes, time.Since(start))
		return outcome
	}

	ft.cleanup(cleanupCtx)
	outcome.Success = true
	outcome.BytesTransferred = ft.bytes
	outcome.Checksum = ft.checksum
	b.notifier.LogTransferSuccess(ft.describe(), fmt.Sprintf("transferred %d bytes", ft.bytes))
	ft.track(func(jt *JobTracker) error { return jt.MarkCompleted(ft.recordID, ft.bytes, ft.checksum) })
	b.recordFile(true, ft.bytes, time.Since(start))
	return outcome
}

func (ft *fileTransfer) execute(ctx context.Context) error {
	b := ft.batch
	opts := b.req.Options

	ft.state = StateCheckDestinationExists
	name, err := b.expander.ResolveDestinationName(ft.entry.Name, b.req.Destination.FileName)
	if err != nil {
		return err
	}
	ft.destPath = naming.Join(b.destDir, name)
	ft.startRecord()

	b.trace("checking whether destination %s exists", ft.destPath)
	exists, err := provider.Exists(ctx, b.dest, ft.destPath)
	if err != nil {
		return err
	}
	if exists && b.req.Destination.Action == ExistsError {
		return fmt.Errorf("%w: %s", ErrDestinationExists, ft.destPath)
	}

	if opts.RenameSourceFileBeforeTransfer {
		ft.state = StateRenameSourceFileBeforeTransfer
		dir := b.workDir
		if dir == "" {
			dir = naming.Dir(ft.entry.FullPath)
		}
		temp := naming.Join(dir, b.tempFileName())
		b.trace("renaming source %s to %s", ft.entry.FullPath, temp)
		if err := b.source.Rename(ctx, ft.entry.FullPath, temp); err != nil {
			return err
		}
		ft.sourcePath = temp
		ft.sourceTemp = true
	}

	ft.state = StatePutOrAppendOrError
	if err := ft.put(ctx, exists); err != nil {
		return err
	}

	if opts.PreserveLastModified {
		ft.state = StateRestoreLastModified
		if err := ft.restoreModTime(ctx); err != nil {
			return err
		}
	}

	ft.state = StateExecuteSourceOperation
	return ft.sourceOperation(ctx)
}

func (ft *fileTransfer) put(ctx context.Context, exists bool) error {
	b := ft.batch
	dest := b.dest

	switch {
	case exists && b.req.Destination.Action == ExistsAppend:
		b.trace("appending %s to %s", ft.sourcePath, ft.destPath)
		return ft.copy(ctx, func() (io.WriteCloser, error) {
			return dest.OpenAppend(ctx, ft.destPath)
		})

	case b.req.Options.RenameDestinationFileDuringTransfer:
		ft.destTempPath = naming.Join(naming.Dir(ft.destPath), b.tempFileName())
		b.trace("uploading %s to temporary %s", ft.sourcePath, ft.destTempPath)
		if err := ft.copy(ctx, func() (io.WriteCloser, error) {
			return dest.OpenWrite(ctx, ft.destTempPath)
		}); err != nil {
			return err
		}
		if exists {
			b.trace("removing existing %s", ft.destPath)
			if err := dest.Remove(ctx, ft.destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		b.trace("renaming %s to %s", ft.destTempPath, ft.destPath)
		if err := dest.Rename(ctx, ft.destTempPath, ft.destPath); err != nil {
			return err
		}
		ft.destTempPath = ""
		return nil

	default:
		b.trace("writing %s to %s", ft.sourcePath, ft.destPath)
		return ft.copy(ctx, func() (io.WriteCloser, error) {
			return dest.OpenWrite(ctx, ft.destPath)
		})
	}
}

// copy streams the source file into the writer returned by open. Both ends
// are checksummed and must agree.
func (ft *fileTransfer) copy(ctx context.Context, open func() (io.WriteCloser, error)) error {
	b := ft.batch

	r, err := b.source.OpenRead(ctx, ft.sourcePath)
	if err != nil {
		return err
	}
	w, err := open()
	if err != nil {
		r.Close()
		return err
	}

	src := NewChecksumReader(r)
	sink := NewChecksumWriter(w)
	var dst io.Writer = sink
	if ft.recordID != "" {
		dst = b.t.tracker.NewTrackedWriter(sink, ft.recordID, 0)
	}

	if _, err := b.t.buffers.Copy(dst, src); err != nil {
		if c, ok := w.(closeWithError); ok {
			_ = c.CloseWithError(err)
		} else {
			_ = w.Close()
		}
		r.Close()
		return err
	}

	// A download holds the control connection until its reader is closed.
	rerr := r.Close()
	if err := w.Close(); err != nil {
		return err
	}
	if rerr != nil {
		return rerr
	}
	if src.Checksum() != sink.Checksum() {
		return fmt.Errorf("checksum mismatch: read %016x, wrote %016x", src.Checksum(), sink.Checksum())
	}

	ft.bytes = src.BytesRead()
	ft.checksum = src.Checksum()
	return nil
}

func (ft *fileTransfer) restoreModTime(ctx context.Context) error {
	b := ft.batch
	modTime := ft.entry.LastModified
	if modTime.IsZero() {
		info, err := b.source.Stat(ctx, ft.sourcePath)
		if err != nil {
			return err
		}
		modTime = info.ModTime()
	}

	b.trace("setting modification time of %s to %s", ft.destPath, modTime.Format(time.RFC3339))
	err := b.dest.Chtimes(ctx, ft.destPath, modTime)
	if errors.Is(err, provider.ErrNotSupported) {
		b.notifier.NotifyInformation(b.req.TransferName, fmt.Sprintf("modification time of %s not preserved: %v", ft.destPath, err))
		return nil
	}
	return err
}

func (ft *fileTransfer) sourceOperation(ctx context.Context) error {
	b := ft.batch
	src := b.req.Source

	switch src.Operation {
	case OperationDelete:
		b.trace("deleting source %s", ft.sourcePath)
		if err := b.source.Remove(ctx, ft.sourcePath); err != nil {
			return err
		}
		ft.sourceTemp = false
		return nil

	case OperationMove:
		target, err := b.expander.ResolveMoveDestination(src.MoveToDirectory, ft.entry.FullPath)
		if err != nil {
			return err
		}
		if err := b.source.MkdirAll(ctx, naming.Dir(target)); err != nil {
			return err
		}
		return ft.moveSource(ctx, target)

	case OperationRename:
		target, err := b.expander.ResolveRenamePath(ft.entry.FullPath, src.RenameTo)
		if err != nil {
			return err
		}
		return ft.moveSource(ctx, target)

	default:
		if ft.sourceTemp {
			return ft.moveSource(ctx, ft.entry.FullPath)
		}
		return nil
	}
}

func (ft *fileTransfer) moveSource(ctx context.Context, target string) error {
	ft.batch.trace("moving source %s to %s", ft.sourcePath, target)
	if err := ft.batch.source.Rename(ctx, ft.sourcePath, target); err != nil {
		return err
	}
	ft.sourcePath = target
	ft.sourceTemp = false
	return nil
}

// restoreSource puts a pre-renamed source file back under its original name.
// A failure is reported but leaves the original error in charge.
func (ft *fileTransfer) restoreSource(ctx context.Context) {
	if !ft.sourceTemp {
		return
	}
	b := ft.batch
	ft.state = StateRestoreSourceFile
	if err := b.source.Rename(ctx, ft.sourcePath, ft.entry.FullPath); err != nil {
		b.notifier.NotifyError(b.req.TransferName,
			fmt.Sprintf("failed to restore source file %s from %s", ft.entry.FullPath, ft.sourcePath), err)
		return
	}
	b.trace("restored source file %s", ft.entry.FullPath)
	ft.sourcePath = ft.entry.FullPath
	ft.sourceTemp = false
}

// cleanup removes the destination temp file. A source temp file is never
// removed since it may hold the only copy of the data.
func (ft *fileTransfer) cleanup(ctx context.Context) {
	b := ft.batch
	prev := ft.state
	ft.state = StateCleanupTemporaryFiles
	defer func() { ft.state = prev }()

	if ft.destTempPath != "" {
		if err := b.dest.Remove(ctx, ft.destTempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			b.notifier.NotifyError(b.req.TransferName,
				fmt.Sprintf("failed to remove temporary file %s", ft.destTempPath), err)
		}
		ft.destTempPath = ""
	}
	if ft.sourceTemp {
		b.notifier.NotifyError(b.req.TransferName,
			fmt.Sprintf("source file %s was left at %s", ft.entry.FullPath, ft.sourcePath), nil)
	}
}

func (ft *fileTransfer) describe() translog.Transfer {
	return translog.Transfer{
		TransferName:    ft.batch.req.TransferName,
		TransferID:      ft.batch.req.TransferID.String(),
		FileName:        ft.entry.Name,
		SourcePath:      ft.entry.FullPath,
		DestinationPath: ft.destPath,
	}
}

func (ft *fileTransfer) startRecord() {
	jt := ft.batch.t.tracker
	if jt == nil {
		return
	}
	id, err := jt.InitFile(ft.batch.req, ft.entry, ft.destPath)
	if err == nil {
		err = jt.MarkInProgress(id)
	}
	if err != nil {
		ft.batch.notifier.NotifyError(ft.batch.req.TransferName, "failed to record transfer state", err)
		return
	}
	ft.recordID = id
}

func (ft *fileTransfer) track(update func(*JobTracker) error) {
	if ft.recordID == "" {
		return
	}
	if err := update(ft.batch.t.tracker); err != nil {
		ft.batch.notifier.NotifyError(ft.batch.req.TransferName, "failed to record transfer state", err)
	}
}

// tempName returns a unique temporary file name.
func tempName(id string) string {
	return "xfer_" + strings.ReplaceAll(id, "-", "") + ".tmp"
}
