package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/franksops/ftpxfer/naming"
	"github.com/franksops/ftpxfer/provider"
	"github.com/google/uuid"
)

// Direction tells which side of a batch is the FTP server.
type Direction int

const (
	// Upload sends local (or S3) files to the FTP server.
	Upload Direction = iota
	// Download fetches files from the FTP server.
	Download
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// ParseDirection parses "upload" or "download". An empty string is upload.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "upload", "put":
		return Upload, nil
	case "download", "get":
		return Download, nil
	}
	return Upload, fmt.Errorf("%w: unknown direction %q", ErrConfiguration, s)
}

// NotFoundAction decides what an empty source file set means.
type NotFoundAction int

const (
	// NotFoundError fails the batch.
	NotFoundError NotFoundAction = iota
	// NotFoundInfo succeeds and records an informational message.
	NotFoundInfo
	// NotFoundIgnore succeeds silently.
	NotFoundIgnore
)

func (a NotFoundAction) String() string {
	switch a {
	case NotFoundInfo:
		return "info"
	case NotFoundIgnore:
		return "ignore"
	default:
		return "error"
	}
}

// ParseNotFoundAction parses "error", "info" or "ignore".
func ParseNotFoundAction(s string) (NotFoundAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return NotFoundError, nil
	case "info":
		return NotFoundInfo, nil
	case "ignore":
		return NotFoundIgnore, nil
	}
	return NotFoundError, fmt.Errorf("%w: unknown not-found action %q", ErrConfiguration, s)
}

// SourceOperation is applied to a source file after it was transferred.
type SourceOperation int

const (
	OperationNothing SourceOperation = iota
	OperationDelete
	OperationRename
	OperationMove
)

func (o SourceOperation) String() string {
	switch o {
	case OperationDelete:
		return "delete"
	case OperationRename:
		return "rename"
	case OperationMove:
		return "move"
	default:
		return "nothing"
	}
}

// ParseSourceOperation parses "nothing", "delete", "rename" or "move".
func ParseSourceOperation(s string) (SourceOperation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nothing", "none":
		return OperationNothing, nil
	case "delete":
		return OperationDelete, nil
	case "rename":
		return OperationRename, nil
	case "move":
		return OperationMove, nil
	}
	return OperationNothing, fmt.Errorf("%w: unknown source operation %q", ErrConfiguration, s)
}

// ExistsAction decides what happens when the destination file already exists.
type ExistsAction int

const (
	ExistsError ExistsAction = iota
	ExistsOverwrite
	ExistsAppend
)

func (a ExistsAction) String() string {
	switch a {
	case ExistsOverwrite:
		return "overwrite"
	case ExistsAppend:
		return "append"
	default:
		return "error"
	}
}

// ParseExistsAction parses "error", "overwrite" or "append".
func ParseExistsAction(s string) (ExistsAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return ExistsError, nil
	case "overwrite":
		return ExistsOverwrite, nil
	case "append":
		return ExistsAppend, nil
	}
	return ExistsError, fmt.Errorf("%w: unknown destination action %q", ErrConfiguration, s)
}

// SourceSpec selects the files of a batch and what happens to them afterwards.
type SourceSpec struct {
	// Directory may contain batch macros.
	Directory string

	// FileNameMask filters listed names. Empty matches everything.
	FileNameMask string

	// FilePaths, when set, are transferred as given without listing the
	// directory. Relative paths are resolved against Directory.
	FilePaths []string

	NotFoundAction NotFoundAction
	Operation      SourceOperation

	// RenameTo is a name template used by OperationRename.
	RenameTo string

	// MoveToDirectory is a directory template used by OperationMove.
	MoveToDirectory string
}

// DestinationSpec says where transferred files go.
type DestinationSpec struct {
	// Directory may contain batch macros.
	Directory string

	// FileName is a name template. Empty keeps the source name.
	FileName string

	Action ExistsAction
}

// OptionsSpec holds the switches of a batch.
type OptionsSpec struct {
	CreateDestinationDirectories        bool
	RenameSourceFileBeforeTransfer      bool
	RenameDestinationFileDuringTransfer bool
	PreserveLastModified                bool
	ThrowErrorOnFail                    bool

	// OperationLog keeps every operations log entry instead of a bounded window.
	OperationLog bool

	// SourceWorkDirectory is where a source file is parked while it is
	// renamed before transfer. Defaults to the file's own directory.
	SourceWorkDirectory string
}

// TransferRequest describes one batch.
type TransferRequest struct {
	Direction   Direction
	Source      SourceSpec
	Destination DestinationSpec
	Connection  provider.FTPConfig
	Options     OptionsSpec

	TransferName string
	TransferID   uuid.UUID

	// BatchStartTime is the time all macros of the batch expand against.
	// Zero means the time Run is called.
	BatchStartTime time.Time
}

// Validate reports configuration errors that make the batch impossible to
// start. All returned errors wrap ErrConfiguration.
func (r *TransferRequest) Validate() error {
	if r.Source.Directory == "" && len(r.Source.FilePaths) == 0 {
		return fmt.Errorf("%w: source directory must be set", ErrConfiguration)
	}
	for i, p := range r.Source.FilePaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: source file path %d is empty", ErrConfiguration, i)
		}
	}
	if r.Destination.Directory == "" {
		return fmt.Errorf("%w: destination directory must be set", ErrConfiguration)
	}

	switch r.Source.Operation {
	case OperationRename:
		if r.Source.RenameTo == "" {
			return fmt.Errorf("%w: source operation rename requires a rename-to template", ErrConfiguration)
		}
		if strings.Contains(r.Source.RenameTo, "?") {
			return fmt.Errorf("%w: character '?' not allowed in rename-to template %q", ErrConfiguration, r.Source.RenameTo)
		}
	case OperationMove:
		if r.Source.MoveToDirectory == "" {
			return fmt.Errorf("%w: source operation move requires a target directory", ErrConfiguration)
		}
	}

	if r.Direction == Download && r.Destination.Action == ExistsAppend {
		return fmt.Errorf("%w: append is not supported for downloads", ErrConfiguration)
	}
	if strings.Contains(r.Destination.FileName, "?") {
		return fmt.Errorf("%w: character '?' not allowed in destination file name %q", ErrConfiguration, r.Destination.FileName)
	}

	exp := naming.NewExpander(naming.Context{})
	for _, dir := range []string{r.Source.Directory, r.Destination.Directory, r.Source.MoveToDirectory, r.Options.SourceWorkDirectory} {
		if _, err := exp.ExpandDirectory(dir); err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	if _, err := naming.MaskToRegexp(r.Source.FileNameMask); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// FileEntry is one source file of a batch.
type FileEntry struct {
	Name         string
	FullPath     string
	LastModified time.Time
	Size         int64
}

// BatchJob queues a request for the worker pool. Done, when set, receives
// the outcome of Run.
type BatchJob struct {
	Request *TransferRequest
	Done    func(*BatchResult, error)
}

// JobChannel is used to queue and dispatch BatchJobs to workers in the
// worker pool.
type JobChannel chan BatchJob
