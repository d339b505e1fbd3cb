package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corewire/bedrock-gateway/internal/bedrock"
	"github.com/corewire/bedrock-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// sseDelta is the incremental payload inside a chunk frame. Role is set on
// the first content frame only, matching the OpenAI streaming contract.
type (
	sseDelta struct {
		Role    string `json:"role,omitempty"`
		Content string `json:"content,omitempty"`
	}
	sseChoice struct {
		Index        int      `json:"index"`
		Delta        sseDelta `json:"delta"`
		FinishReason *string  `json:"finish_reason"`
	}
	sseChunk struct {
		ID      string         `json:"id"`
		Object  string         `json:"object"`
		Created int64          `json:"created"`
		Model   string         `json:"model"`
		Choices []sseChoice    `json:"choices"`
		Usage   *outboundUsage `json:"usage,omitempty"`
	}
)

// sseMeta carries the request bookkeeping the stream writer needs once the
// handler has returned.
type sseMeta struct {
	requestID string
	alias     string
	route     string
	family    string
	reqBytes  int
	start     time.Time
}

// writeSSEStream renders the result's chunk channel as chat.completion.chunk
// Server-Sent Events, terminated by "data: [DONE]".
//
// Frame order: one content frame per delta (role "assistant" on the first),
// then one terminal frame carrying finish_reason and usage. A mid-stream
// backend failure is rendered as an error envelope frame instead of the
// terminal frame; the stream still ends with [DONE] so clients unblock.
//
// The writer owns cancel: it fires when the stream drains or the client
// disconnects, which stops the invoker's pump goroutine. Every frame is
// flushed and the first write failure aborts the loop, so a dropped client
// releases the backend stream promptly instead of draining it to the end.
func (g *Gateway) writeSSEStream(ctx *fasthttp.RequestCtx, cancel context.CancelFunc, res *bedrock.Result, meta sseMeta) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	id := completionID()
	created := time.Now().Unix()

	model := meta.alias
	if model == "" {
		model = res.ModelID
	}

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer
		defer cancel()

		contentChars := 0
		usage := outboundUsage{}
		first := true
		failed := false
		disconnected := false

		for chunk := range res.Chunks {
			if chunk.Err != nil {
				failed = true
				status := fasthttp.StatusInternalServerError
				var invokeErr *bedrock.InvokeError
				if errors.As(chunk.Err, &invokeErr) {
					status = invokeErr.HTTPStatus()
				}
				fmt.Fprintf(w, "data: %s\n\n", apierr.Chunk(status))
				w.Flush() //nolint:errcheck
				if g.metrics != nil {
					g.metrics.RecordError(meta.family, errorCode(chunk.Err))
				}
				break
			}

			if chunk.FinishReason != "" {
				usage = outboundUsage{
					PromptTokens:     chunk.Usage.InputTokens,
					CompletionTokens: chunk.Usage.OutputTokens,
					TotalTokens:      chunk.Usage.InputTokens + chunk.Usage.OutputTokens,
				}
				if usage.CompletionTokens == 0 && contentChars > 0 {
					// Backend sent no usage metadata; fall back to the
					// chars/4 estimate.
					est := contentChars / 4
					if est == 0 {
						est = 1
					}
					usage.CompletionTokens = est
					usage.TotalTokens = usage.PromptTokens + est
				}
				reason := chunk.FinishReason
				frame := sseChunk{
					ID:      id,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   model,
					Choices: []sseChoice{{Index: 0, FinishReason: &reason}},
					Usage:   &usage,
				}
				if err := writeFrame(w, frame); err != nil {
					disconnected = true
					break
				}
				continue
			}

			contentChars += len(chunk.Delta)
			delta := sseDelta{Content: chunk.Delta}
			if first {
				delta.Role = "assistant"
				first = false
			}
			err := writeFrame(w, sseChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []sseChoice{{Index: 0, Delta: delta}},
			})
			if err != nil {
				disconnected = true
				break
			}
		}

		if !disconnected {
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush() //nolint:errcheck
		}

		status := fasthttp.StatusOK
		if failed {
			status = fasthttp.StatusBadGateway
		}
		g.logRequest(meta.requestID, meta.family, meta.alias, res.ModelID,
			usage.PromptTokens, usage.CompletionTokens,
			time.Since(meta.start), status, false, true)

		if g.metrics != nil {
			dur := time.Since(meta.start)
			g.metrics.ObserveHTTP(meta.route, fasthttp.StatusOK, dur, meta.reqBytes, -1)
			g.metrics.RecordRequest(meta.family, status)
			g.metrics.ObserveGatewayRequest(meta.family, meta.route, "bypass", dur)
			g.metrics.AddTokens(meta.family, meta.route, usage.PromptTokens, usage.CompletionTokens, false)
			g.metrics.DecActiveStreams()
			g.metrics.DecInFlight()
		}
	})
}

// writeFrame marshals and flushes one SSE frame. The returned error is the
// disconnect signal: once a write fails the client is gone and the caller
// must stop consuming the backend stream.
func writeFrame(w *bufio.Writer, frame sseChunk) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func errorCode(err error) string {
	var invokeErr *bedrock.InvokeError
	if errors.As(err, &invokeErr) {
		return invokeErr.Code
	}
	return "internal"
}
