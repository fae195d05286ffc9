package model

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Per-file and per-shard failures wrap one of these
// sentinels so callers can classify them with errors.Is.
var (
	// ErrMalformedCapture reports a capture file whose header is not a
	// recognized capture format. Fatal to the file, not the run.
	ErrMalformedCapture = errors.New("malformed capture")

	// ErrTruncatedRecord reports a packet record whose declared length
	// exceeds the remaining file bytes. Fatal to the file, not the run.
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrCounterOverflow reports a flow counter that would exceed its width.
	ErrCounterOverflow = errors.New("counter overflow")

	// ErrInconsistentSchema reports a CSV row whose column layout deviates
	// from the fixed flow schema. Fatal to the shard, not the run.
	ErrInconsistentSchema = errors.New("inconsistent schema")

	// ErrTimeout reports a per-file processing unit that exceeded its
	// wall-clock budget and was abandoned.
	ErrTimeout = errors.New("processing timeout")

	// ErrIOFailure reports an unrecoverable read or write error.
	ErrIOFailure = errors.New("i/o failure")
)

// FileError carries enough context to reproduce a per-file failure: the input
// path and, where applicable, the byte offset at which it occurred.
type FileError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *FileError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("%s: offset %d: %v", e.Path, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// NewFileError wraps err with file context. Offset 0 means not applicable.
func NewFileError(path string, offset int64, err error) *FileError {
	return &FileError{Path: path, Offset: offset, Err: err}
}
