package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// InvokeError is a normalized backend failure. Status is the HTTP-equivalent
// status the failure maps to; Code is the backend's exception name (for logs
// and metrics). Message carries the backend's own text and must not be sent
// to clients verbatim; pkg/apierr renders the client-facing wording.
type InvokeError struct {
	Status  int
	Code    string
	Message string
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("bedrock: %s: %s (status=%d)", e.Code, e.Message, e.Status)
}

// HTTPStatus implements the status-coder contract consumed by the HTTP layer.
func (e *InvokeError) HTTPStatus() int { return e.Status }

// wrapError converts any failure from an SDK call into an *InvokeError.
// Context cancellation is passed through untouched so callers can tell a
// client disconnect apart from a backend failure.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return &InvokeError{
			Status:  statusForCode(code),
			Code:    code,
			Message: apiErr.ErrorMessage(),
		}
	}

	return &InvokeError{Status: 500, Code: "InternalError", Message: err.Error()}
}

// statusForCode maps Bedrock exception names to HTTP-equivalent statuses.
// Both bedrock-runtime and bedrock-agent-runtime use the same names, so a
// single table covers the two services. Unknown codes map to 500.
func statusForCode(code string) int {
	switch code {
	case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
		return 429
	case "AccessDeniedException", "UnauthorizedException":
		return 403
	case "ValidationException", "BadRequestException", "ResourceNotFoundException":
		return 400
	default:
		return 500
	}
}
