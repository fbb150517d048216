package checkpoint

import (
	"fmt"

	"github.com/osint-platform/crawler-core/pkg/failure"
)

type CheckpointErrorCause string

const (
	ErrCauseWriteFailure  CheckpointErrorCause = "write failed"
	ErrCauseEncodeFailure CheckpointErrorCause = "encode failed"
	ErrCauseReadFailure   CheckpointErrorCause = "read failed"
	ErrCauseDecodeFailure CheckpointErrorCause = "decode failed"
)

// CheckpointError is always Recoverable: per the checkpoint store's
// failure-handling contract, a bad write or read is logged and the run
// continues (a fresh run on read failure, an un-checkpointed round on
// write failure) rather than aborting the crawl.
type CheckpointError struct {
	Message string
	Cause   CheckpointErrorCause
	Path    string
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint error: %s (%s)", e.Cause, e.Path)
}

func (e *CheckpointError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}
