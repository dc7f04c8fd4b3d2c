package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidThread marks a thread identifier that cannot be decomposed
	// into prefix+owner+suffix. Rejected before any stage runs.
	ErrInvalidThread = errors.New("invalid thread identifier")

	// ErrExtractionFailed marks an OCR collaborator failure. Recovered into
	// an error:true record, never a transport failure.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrAnalysisFailed marks an exhausted or malformed language-model
	// response. Recovered into an error:true record.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrCheckpointPersist marks a checkpoint write failure. The whole run
	// is retryable and resumes from the last durable checkpoint.
	ErrCheckpointPersist = errors.New("checkpoint persist failed")

	// ErrCollaboratorTimeout marks a collaborator call that exceeded its
	// deadline. Retryable at the run level.
	ErrCollaboratorTimeout = errors.New("collaborator timeout")

	// ErrNotFound collapses not-found and not-owned so record existence
	// never leaks across identities.
	ErrNotFound = errors.New("analysis not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
