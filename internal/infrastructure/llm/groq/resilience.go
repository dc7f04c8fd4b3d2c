package groq

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/resilience"
)

var (
	errEmptyCompletion    = errors.New("completion returned no choices")
	errMissingDocType     = errors.New("doc_type is empty")
	errMissingExplanation = errors.New("simplified_explanation is empty")
	errConfidenceRange    = errors.New("confidence_score outside [0, 1]")
)

func classifyGroqError(err error) resilience.Verdict {
	if err == nil {
		return resilience.Verdict{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Verdict{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrAnalysisFailed) {
		return resilience.Verdict{Retryable: false, RecordFailure: false}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isRetryableHTTPStatus(apiErr.HTTPStatusCode) {
			return resilience.Verdict{Retryable: true, RecordFailure: true}
		}
		return resilience.Verdict{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.Verdict{Retryable: true, RecordFailure: true}
	}

	return resilience.Verdict{Retryable: true, RecordFailure: true}
}

// wrapGroqError sorts the executor's final error into the pipeline taxonomy.
// Timeouts surface as collaborator timeouts; an open circuit or an
// unreachable service is temporary. A service that answered but kept failing
// has exhausted its retries: that is a failed analysis the run absorbs into
// an error record, not a condition for bouncing the caller.
func wrapGroqError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrAnalysisFailed) || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrCollaboratorTimeout, operation, err)
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(domain.ErrAnalysisFailed, operation, err)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
