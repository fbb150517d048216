package formextract

import (
	"fmt"

	"github.com/osint-platform/crawler-core/pkg/failure"
)

type ExtractionErrorCause string

const (
	ErrCauseNotParseable ExtractionErrorCause = "document not parseable"
)

// ExtractionError reports that a page's body could not be walked for
// forms at all.
type ExtractionError struct {
	Message string
	Cause   ExtractionErrorCause
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("form extraction error: %s: %s", e.Cause, e.Message)
}

func (e *ExtractionError) Severity() failure.Severity {
	return failure.SeverityFatal
}
