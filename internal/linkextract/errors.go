package linkextract

import (
	"fmt"

	"github.com/osint-platform/crawler-core/pkg/failure"
)

type ExtractionErrorCause string

const (
	ErrCauseNotParseable ExtractionErrorCause = "document not parseable"
)

// ExtractionError reports that a page's body could not be walked for
// links at all. It is always fatal for that single fetch - there is no
// retry that would make malformed bytes parseable.
type ExtractionError struct {
	Message string
	Cause   ExtractionErrorCause
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("link extraction error: %s: %s", e.Cause, e.Message)
}

func (e *ExtractionError) Severity() failure.Severity {
	return failure.SeverityFatal
}
