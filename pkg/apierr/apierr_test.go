package apierr

import (
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestTypeForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{429, TypeRateLimit},
		{403, TypePermission},
		{400, TypeInvalidRequest},
		{500, TypeInternalError},
		{502, TypeInternalError},
		{504, TypeInternalError},
	}
	for _, tt := range tests {
		if got := TypeForStatus(tt.status); got != tt.want {
			t.Errorf("TypeForStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestWriteStatus_Envelope(t *testing.T) {
	var ctx fasthttp.RequestCtx
	WriteStatus(&ctx, 403)

	if ctx.Response.StatusCode() != 403 {
		t.Errorf("status = %d", ctx.Response.StatusCode())
	}
	if got := string(ctx.Response.Header.ContentType()); got != "application/json" {
		t.Errorf("content type = %q", got)
	}

	var parsed struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &parsed); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if parsed.Error.Code != 403 {
		t.Errorf("code = %d, want 403", parsed.Error.Code)
	}
	if parsed.Error.Type != TypePermission {
		t.Errorf("type = %q", parsed.Error.Type)
	}
	if parsed.Error.Message == "" {
		t.Error("message is empty")
	}
}

func TestWriteStatus_RateLimitSetsRetryAfter(t *testing.T) {
	var ctx fasthttp.RequestCtx
	WriteStatus(&ctx, 429)
	if got := string(ctx.Response.Header.Peek("Retry-After")); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
}

func TestWriteInvalidRequest_KeepsGatewayMessage(t *testing.T) {
	var ctx fasthttp.RequestCtx
	WriteInvalidRequest(&ctx, "messages must not be empty")

	var parsed struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Error.Message != "messages must not be empty" {
		t.Errorf("message = %q", parsed.Error.Message)
	}
	if parsed.Error.Code != 400 || parsed.Error.Type != TypeInvalidRequest {
		t.Errorf("envelope = %+v", parsed.Error)
	}
}

func TestChunk_IsValidEnvelope(t *testing.T) {
	var parsed struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(Chunk(500), &parsed); err != nil {
		t.Fatalf("Chunk produced invalid JSON: %v", err)
	}
	if parsed.Error.Code != 500 || parsed.Error.Type != TypeInternalError {
		t.Errorf("envelope = %+v", parsed.Error)
	}
}
