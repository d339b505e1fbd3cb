package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// fakeWords is a pool of words used to build mock responses.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "response", "from", "the",
	"local", "bedrock", "runtime", "simulating", "a", "real", "model", "call",
	"for", "development", "and", "testing", "purposes",
}

// fakeSentence returns a fake response text of roughly n words.
func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

// applyLatency sleeps for the configured latency.
func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

// shouldError returns true if this request should simulate a failure.
func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForCode maps an AWS error code to the HTTP status the real service
// would use.
func statusForCode(code string) int {
	switch code {
	case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
		return http.StatusTooManyRequests
	case "AccessDeniedException", "UnauthorizedException":
		return http.StatusForbidden
	case "ValidationException", "BadRequestException", "ResourceNotFoundException":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeAWSError emits a restjson error the SDK client will surface as a
// smithy.APIError with the given code. The code travels in the
// X-Amzn-Errortype header, the message in the body.
func writeAWSError(w http.ResponseWriter, code, msg string) {
	w.Header().Set("X-Amzn-Errortype", code)
	writeJSON(w, statusForCode(code), map[string]string{"message": msg})
}

// newBedrockHandler returns an http.Handler simulating the Bedrock runtime
// and agent runtime APIs.
func newBedrockHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Matches /model/{modelId}/converse and /model/{modelId}/converse-stream.
	mux.HandleFunc("/model/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeAWSError(w, "ValidationException", "method not allowed")
			return
		}

		modelID := extractModelID(r.URL.Path)
		isStream := strings.HasSuffix(r.URL.Path, "/converse-stream")

		applyLatency(cfg)
		if shouldError(cfg) {
			writeAWSError(w, cfg.ErrorCode, "injected mock failure")
			return
		}

		if isStream {
			serveConverseStream(w, cfg)
		} else {
			serveConverse(w, modelID, cfg)
		}
	})

	mux.HandleFunc("/retrieveAndGenerate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeAWSError(w, "ValidationException", "method not allowed")
			return
		}

		applyLatency(cfg)
		if shouldError(cfg) {
			writeAWSError(w, cfg.ErrorCode, "injected mock failure")
			return
		}

		serveRetrieveAndGenerate(w, r, cfg)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAWSError(w, "ResourceNotFoundException",
			fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})

	return mux
}

// serveConverse answers a buffered Converse call.
func serveConverse(w http.ResponseWriter, modelID string, cfg Config) {
	content := fakeSentence(cfg.StreamWords)

	writeJSON(w, http.StatusOK, map[string]any{
		"output": map[string]any{
			"message": map[string]any{
				"role": "assistant",
				"content": []map[string]string{
					{"text": content},
				},
			},
		},
		"stopReason": "end_turn",
		"usage": map[string]int{
			"inputTokens":  12,
			"outputTokens": cfg.StreamWords,
			"totalTokens":  12 + cfg.StreamWords,
		},
		"metrics": map[string]int{
			"latencyMs": cfg.LatencyMS,
		},
		// Echoed for identification in tests.
		"model": modelID,
	})
}

// serveRetrieveAndGenerate answers a knowledge-base generation call with one
// citation so the gateway's citation mapping can be exercised end to end.
func serveRetrieveAndGenerate(w http.ResponseWriter, r *http.Request, cfg Config) {
	var req struct {
		Input struct {
			Text string `json:"text"`
		} `json:"input"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	answer := fakeSentence(cfg.StreamWords)

	writeJSON(w, http.StatusOK, map[string]any{
		"output": map[string]string{"text": answer},
		"citations": []map[string]any{
			{
				"generatedResponsePart": map[string]any{
					"textResponsePart": map[string]any{
						"text": answer,
						"span": map[string]int{"start": 0, "end": len(answer)},
					},
				},
				"retrievedReferences": []map[string]any{
					{
						"content": map[string]string{
							"text": "Mock source passage relevant to: " + req.Input.Text,
						},
						"location": map[string]any{
							"type": "S3",
							"s3Location": map[string]string{
								"uri": "s3://mock-kb-bucket/documents/source-1.pdf",
							},
						},
					},
				},
			},
		},
		"sessionId": fmt.Sprintf("mock-session-%x", rand.Int64()),
	})
}

// extractModelID extracts the model ID from a path like
// /model/anthropic.claude-3-5-sonnet-20241022-v2:0/converse
func extractModelID(path string) string {
	const prefix = "/model/"
	if !strings.HasPrefix(path, prefix) {
		return "unknown"
	}
	rest := path[len(prefix):]
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
