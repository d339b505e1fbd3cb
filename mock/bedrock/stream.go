package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// serveConverseStream answers a ConverseStream call using the real
// vnd.amazon.eventstream binary framing, so the aws-sdk-go-v2 client can
// consume the response unmodified. Event order mirrors the live service:
// messageStart, contentBlockDelta per word, contentBlockStop, messageStop,
// then a final metadata event carrying usage.
func serveConverseStream(w http.ResponseWriter, cfg Config) {
	w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := eventstream.NewEncoder()

	sendEvent := func(eventType string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg := eventstream.Message{
			Headers: eventstream.Headers{
				{Name: ":message-type", Value: eventstream.StringValue("event")},
				{Name: ":event-type", Value: eventstream.StringValue(eventType)},
				{Name: ":content-type", Value: eventstream.StringValue("application/json")},
			},
			Payload: data,
		}
		if err := enc.Encode(w, msg); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	content := fakeSentence(cfg.StreamWords)

	sendEvent("messageStart", map[string]string{"role": "assistant"})

	sendEvent("contentBlockStart", map[string]any{
		"contentBlockIndex": 0,
		"start":             nil,
	})

	for _, word := range strings.Fields(content) {
		sendEvent("contentBlockDelta", map[string]any{
			"contentBlockIndex": 0,
			"delta":             map[string]string{"text": word + " "},
		})
	}

	sendEvent("contentBlockStop", map[string]int{"contentBlockIndex": 0})

	sendEvent("messageStop", map[string]any{"stopReason": "end_turn"})

	sendEvent("metadata", map[string]any{
		"usage": map[string]int{
			"inputTokens":  12,
			"outputTokens": cfg.StreamWords,
			"totalTokens":  12 + cfg.StreamWords,
		},
		"metrics": map[string]int{"latencyMs": cfg.LatencyMS},
	})
}
