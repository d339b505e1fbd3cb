// Package apierr renders the gateway's client-facing error envelope:
//
//	{"error": {"code": 429, "message": "...", "type": "rate_limit"}}
//
// The code field is the numeric HTTP status. Messages are the gateway's own
// wording per category; backend error text never reaches clients verbatim.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Error type constants.
const (
	TypeRateLimit      = "rate_limit"
	TypePermission     = "permission"
	TypeInvalidRequest = "invalid_request"
	TypeInternalError  = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// TypeForStatus maps an HTTP status to the error type vocabulary. Anything
// not covered by a specific category is an internal error.
func TypeForStatus(status int) string {
	switch status {
	case fasthttp.StatusTooManyRequests:
		return TypeRateLimit
	case fasthttp.StatusForbidden:
		return TypePermission
	case fasthttp.StatusBadRequest:
		return TypeInvalidRequest
	default:
		return TypeInternalError
	}
}

// messageForStatus is the gateway's canned wording per status category.
func messageForStatus(status int) string {
	switch status {
	case fasthttp.StatusTooManyRequests:
		return "rate limit exceeded, please retry later"
	case fasthttp.StatusForbidden:
		return "access to the requested model is denied"
	case fasthttp.StatusBadRequest:
		return "the request was rejected as invalid"
	case fasthttp.StatusGatewayTimeout:
		return "upstream request timed out"
	default:
		return "an internal error occurred while processing the request"
	}
}

// Write writes the envelope with an explicit message. The message must be
// gateway-authored wording, not upstream error text.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Code:    status,
		Message: message,
		Type:    errType,
	}})
	ctx.SetBody(body)
}

// WriteStatus writes the canned envelope for a status. This is the path
// backend failures take: the status carries all client-visible information.
func WriteStatus(ctx *fasthttp.RequestCtx, status int) {
	if status == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "60")
	}
	Write(ctx, status, messageForStatus(status), TypeForStatus(status))
}

// WriteInvalidRequest writes a 400 with a gateway-authored validation message.
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message, TypeInvalidRequest)
}

// WriteRateLimit writes a 429 with a Retry-After hint.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	WriteStatus(ctx, fasthttp.StatusTooManyRequests)
}

// WriteTimeout writes a 504 for an upstream call that exceeded its deadline.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	WriteStatus(ctx, fasthttp.StatusGatewayTimeout)
}

// Chunk renders the envelope as a standalone JSON object for embedding in an
// SSE frame when a stream fails after data has been sent.
func Chunk(status int) []byte {
	body, _ := json.Marshal(envelope{Error: APIError{
		Code:    status,
		Message: messageForStatus(status),
		Type:    TypeForStatus(status),
	}})
	return body
}
