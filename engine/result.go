package engine

import (
	"fmt"
	"strings"

	"github.com/franksops/ftpxfer/translog"
)

// UnknownFileKey groups errors that cannot be tied to a file.
const UnknownFileKey = "--unknown--"

// SingleTransferOutcome is the result of transferring one file.
type SingleTransferOutcome struct {
	Success       bool
	ActionSkipped bool

	TransferredFileName string
	TransferredFilePath string

	ErrorMessages []string

	BytesTransferred int64
	Checksum         uint64
}

// BatchResult aggregates the outcomes of one batch.
type BatchResult struct {
	Success       bool
	ActionSkipped bool
	Cancelled     bool

	UserResultMessage string

	SuccessfulTransferCount int
	FailedTransferCount     int

	TransferredFileNames []string
	TransferredFilePaths []string

	// TransferErrors maps a file name to the errors of its transfer.
	TransferErrors map[string][]string

	OperationsLog []translog.Entry
}

// foldOutcomes builds a BatchResult out of per-file outcomes. Skipped
// outcomes are not counted but their errors are reported.
func foldOutcomes(outcomes []SingleTransferOutcome) *BatchResult {
	r := &BatchResult{
		Success:        true,
		ActionSkipped:  true,
		TransferErrors: map[string][]string{},
	}

	var errs []string
	for _, o := range outcomes {
		r.Success = r.Success && o.Success
		if !o.ActionSkipped {
			r.ActionSkipped = false
			if o.Success {
				r.SuccessfulTransferCount++
				r.TransferredFileNames = append(r.TransferredFileNames, o.TransferredFileName)
				r.TransferredFilePaths = append(r.TransferredFilePaths, o.TransferredFilePath)
			} else {
				r.FailedTransferCount++
			}
		}
		if len(o.ErrorMessages) > 0 {
			key := o.TransferredFileName
			if key == "" {
				key = UnknownFileKey
			}
			r.TransferErrors[key] = append(r.TransferErrors[key], o.ErrorMessages...)
			errs = append(errs, o.ErrorMessages...)
		}
	}

	r.UserResultMessage = userMessage(errs, r.TransferredFileNames)
	return r
}

func userMessage(errs, transferred []string) string {
	var sb strings.Builder
	if len(errs) > 0 {
		fmt.Fprintf(&sb, "%d Errors: %s.\n", len(errs), strings.Join(errs, ",\n"))
	}
	if len(transferred) == 0 {
		sb.WriteString("No files transferred.")
	} else {
		fmt.Fprintf(&sb, "%d files transferred:\n%s", len(transferred), strings.Join(transferred, "\n"))
	}
	return sb.String()
}

// fatalResult is returned when the batch could not run at all. It carries
// no per-file data.
func fatalResult(err error) *BatchResult {
	msg := err.Error()
	return &BatchResult{
		Success:           false,
		ActionSkipped:     true,
		UserResultMessage: "Transfer failed: " + msg,
		TransferErrors:    map[string][]string{UnknownFileKey: {msg}},
	}
}
