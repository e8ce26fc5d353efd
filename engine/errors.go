package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks a request that cannot be run as configured.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnection marks a failure to reach or log in to a server.
	ErrConnection = errors.New("connection error")

	// ErrDirectoryNotFound is returned when a source or destination directory
	// is missing and may not be created.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrDestinationExists is returned when the destination file exists and
	// the destination action is ExistsError.
	ErrDestinationExists = errors.New("destination file already exists")

	// ErrNoSourceFiles is returned when no source file matched.
	ErrNoSourceFiles = errors.New("no source files found")

	// ErrCancelled is returned when a batch stopped before processing every file.
	ErrCancelled = errors.New("transfer cancelled")
)

// TransferError is the failure of a single file transfer.
type TransferError struct {
	State          TransferState
	FileName       string
	DestinationDir string
	Err            error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("failure in %s: file %q to %q: %v", e.State, e.FileName, e.DestinationDir, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// BatchError is returned by Run for a failed batch when the request asks to
// fail hard. It carries the newest lines of the operations log.
type BatchError struct {
	Message string
	Log     []string
	Err     error
}

func (e *BatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("transfer failed: ")
	sb.WriteString(e.Message)
	if len(e.Log) > 0 {
		sb.WriteString("\nlatest operations:\n")
		sb.WriteString(strings.Join(e.Log, "\n"))
	}
	return sb.String()
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
