package query

import (
	"errors"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

var (
	// ErrAssistantDisabled is returned when the assistant is switched off.
	ErrAssistantDisabled = errors.New("Assistant is disabled")
	// ErrDegraded is matched by *DegradedError.
	ErrDegraded = errors.New("service degraded")
)

// DegradedError reports which backends were unavailable when a question arrived.
type DegradedError struct {
	Report models.HealthReport
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("service degraded: embedder %s, vector_db %s, llm %s",
		e.Report.Embedder, e.Report.VectorDB, e.Report.LLM)
}

func (e *DegradedError) Is(target error) bool { return target == ErrDegraded }
