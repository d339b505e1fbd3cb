package bedrock

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestWrapError_APIErrorClassification(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{"ThrottlingException", 429},
		{"ServiceQuotaExceededException", 429},
		{"TooManyRequestsException", 429},
		{"AccessDeniedException", 403},
		{"UnauthorizedException", 403},
		{"ValidationException", 400},
		{"BadRequestException", 400},
		{"ResourceNotFoundException", 400},
		{"ModelErrorException", 500},
		{"SomethingBrandNew", 500},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			src := &smithy.GenericAPIError{Code: tt.code, Message: "backend detail"}
			err := wrapError(fmt.Errorf("operation error Bedrock: %w", src))

			var invokeErr *InvokeError
			if !errors.As(err, &invokeErr) {
				t.Fatalf("wrapError returned %T, want *InvokeError", err)
			}
			if invokeErr.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", invokeErr.Status, tt.wantStatus)
			}
			if invokeErr.Code != tt.code {
				t.Errorf("Code = %q, want %q", invokeErr.Code, tt.code)
			}
			if invokeErr.HTTPStatus() != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d", invokeErr.HTTPStatus())
			}
		})
	}
}

func TestWrapError_ContextErrorsPassThrough(t *testing.T) {
	for _, src := range []error{context.Canceled, context.DeadlineExceeded} {
		err := wrapError(fmt.Errorf("call: %w", src))
		if !errors.Is(err, src) {
			t.Errorf("wrapError(%v) = %v, want passthrough", src, err)
		}
		var invokeErr *InvokeError
		if errors.As(err, &invokeErr) {
			t.Errorf("context error was converted to InvokeError")
		}
	}
}

func TestWrapError_UnknownErrorIsInternal(t *testing.T) {
	err := wrapError(errors.New("dial tcp: connection refused"))
	var invokeErr *InvokeError
	if !errors.As(err, &invokeErr) {
		t.Fatalf("got %T", err)
	}
	if invokeErr.Status != 500 || invokeErr.Code != "InternalError" {
		t.Errorf("got %+v, want 500/InternalError", invokeErr)
	}
}

func TestWrapError_Nil(t *testing.T) {
	if err := wrapError(nil); err != nil {
		t.Errorf("wrapError(nil) = %v", err)
	}
}

func TestInvokeError_Error(t *testing.T) {
	e := &InvokeError{Status: 429, Code: "ThrottlingException", Message: "slow down"}
	want := "bedrock: ThrottlingException: slow down (status=429)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}
