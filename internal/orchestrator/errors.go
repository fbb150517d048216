package orchestrator

import (
	"fmt"

	"github.com/osint-platform/crawler-core/pkg/failure"
)

type OrchestratorErrorCause string

const (
	ErrCauseNoSeedURLs   OrchestratorErrorCause = "no seed urls configured"
	ErrCauseRobotsFatal  OrchestratorErrorCause = "robots infrastructure failure"
)

// OrchestratorError is raised only for conditions that prevent a run from
// starting at all; per-URL failures during the crawl never reach this type,
// they are reported via Hooks.OnError instead.
type OrchestratorError struct {
	Message string
	Cause   OrchestratorErrorCause
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator error: %s: %s", e.Cause, e.Message)
}

func (e *OrchestratorError) Severity() failure.Severity {
	return failure.SeverityFatal
}

var _ failure.ClassifiedError = (*OrchestratorError)(nil)

func fmtErr(cause OrchestratorErrorCause, format string, args ...any) *OrchestratorError {
	return &OrchestratorError{Message: fmt.Sprintf(format, args...), Cause: cause}
}
