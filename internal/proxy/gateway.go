// Package proxy is the OpenAI-to-Bedrock request dispatcher.
//
// The Gateway receives an incoming OpenAI-compatible request, resolves the
// Bedrock target (direct model invocation or knowledge-base retrieval),
// checks the cache, applies rate limiting, and performs exactly one backend
// call — there is no retry or failover layer, failures surface to the client
// as normalized error envelopes.
//
// Key design constraints:
//   - Gateway overhead < 2 ms P50. No blocking I/O on the hot path.
//   - Logger, cache, and rate limiter are optional and nil-safe.
//   - All backend I/O uses context.Context so timeouts propagate correctly.
//   - Streaming responses are forward-only SSE; they are never cached.
package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corewire/bedrock-gateway/internal/bedrock"
	"github.com/corewire/bedrock-gateway/internal/cache"
	"github.com/corewire/bedrock-gateway/internal/logger"
	"github.com/corewire/bedrock-gateway/internal/metrics"
	"github.com/corewire/bedrock-gateway/internal/ratelimit"
	"github.com/corewire/bedrock-gateway/pkg/apierr"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"
)

// Invoker performs one Bedrock call per request. *bedrock.Invoker is the
// production implementation; tests substitute a stub.
type Invoker interface {
	Invoke(ctx context.Context, req *bedrock.ChatRequest, t bedrock.Target) (*bedrock.Result, error)
	Retrieve(ctx context.Context, req *bedrock.RetrieveRequest, t bedrock.Target) (*bedrock.RetrieveResult, error)
}

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger used for request events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger

	// InvokeTimeout bounds buffered backend calls (Converse and
	// RetrieveAndGenerate). Streaming calls run on the request lifetime
	// instead; a fixed deadline would cut long generations short.
	// Default: 60s.
	InvokeTimeout time.Duration

	// Metrics enables Prometheus metrics collection. When nil, metrics are disabled.
	Metrics *metrics.Registry

	// CacheTTL controls the default TTL for cached responses.
	// Default: 1h.
	CacheTTL time.Duration
}

// Gateway is the main dispatcher — all dependencies are injected via the
// constructor so they can be replaced with stub doubles in unit tests.
type Gateway struct {
	invoker    Invoker
	resolver   *bedrock.Resolver
	cache      cache.Cache
	cacheReady func() bool
	baseCtx    context.Context
	log        *slog.Logger
	metrics    *metrics.Registry

	invokeTimeout time.Duration
	cacheTTL      time.Duration

	// Optional dependencies — nil-safe when not configured.
	rpmLimiter      *ratelimit.RPMLimiter
	reqLogger       *logger.Logger
	cacheExclusions *cache.ExclusionList

	// CORS allowed origins. Empty slice means allow all.
	corsOrigins []string
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// NewGateway creates a Gateway with default settings.
func NewGateway(ctx context.Context, invoker Invoker, resolver *bedrock.Resolver, c cache.Cache) *Gateway {
	return NewGatewayWithOptions(ctx, invoker, resolver, c, nil, GatewayOptions{})
}

// NewGatewayWithOptions creates a fully configured Gateway. cacheReady is an
// optional readiness check for the cache backend (used by GET /readiness).
func NewGatewayWithOptions(
	baseCtx context.Context,
	invoker Invoker,
	resolver *bedrock.Resolver,
	c cache.Cache,
	cacheReady func() bool,
	opts GatewayOptions,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}
	if resolver == nil {
		panic("gateway: resolver must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	invokeTimeout := opts.InvokeTimeout
	if invokeTimeout <= 0 {
		invokeTimeout = 60 * time.Second
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	return &Gateway{
		invoker:       invoker,
		resolver:      resolver,
		cache:         c,
		cacheReady:    cacheReady,
		baseCtx:       baseCtx,
		log:           log,
		metrics:       opts.Metrics,
		invokeTimeout: invokeTimeout,
		cacheTTL:      cacheTTL,
	}
}

// SetRateLimiters injects the RPM rate limiter.
func (g *Gateway) SetRateLimiters(rpm *ratelimit.RPMLimiter) {
	g.rpmLimiter = rpm
}

// SetLogger injects the async request logger.
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// SetCacheExclusions injects the cache exclusion list.
// Requests whose model name matches any rule skip both cache GET and SET.
func (g *Gateway) SetCacheExclusions(el *cache.ExclusionList) {
	g.cacheExclusions = el
}

// ── Inbound / outbound wire types ─────────────────────────────────────────────

type (
	inboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	inboundRequest struct {
		Model       string           `json:"model"`
		Messages    []inboundMessage `json:"messages"`
		Stream      bool             `json:"stream"`
		Temperature *float64         `json:"temperature"`
		TopP        *float64         `json:"top_p"`
		MaxTokens   int              `json:"max_tokens"`
		Stop        json.RawMessage  `json:"stop"`
		// ModelARN overrides the generation model for knowledge-base calls.
		ModelARN string `json:"model_arn"`
	}

	outboundUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	outboundMetadata struct {
		Citations []bedrock.Citation `json:"citations"`
	}

	outboundMessage struct {
		Role     string            `json:"role"`
		Content  string            `json:"content"`
		Metadata *outboundMetadata `json:"metadata,omitempty"`
	}

	outboundChoice struct {
		Index        int             `json:"index"`
		Message      outboundMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	outboundResponse struct {
		ID      string           `json:"id"`
		Object  string           `json:"object"`
		Created int64            `json:"created"`
		Model   string           `json:"model"`
		Choices []outboundChoice `json:"choices"`
		Usage   outboundUsage    `json:"usage"`
	}
)

// parseStopSequences converts the raw JSON "stop" field into []string.
// The OpenAI API accepts either a bare string or an array of strings.
func parseStopSequences(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}, nil
	}
	return nil, fmt.Errorf("'stop' must be a string or array of strings")
}

// completionID generates an OpenAI-style response identifier.
func completionID() string {
	u := uuid.New()
	return "chatcmpl-" + hex.EncodeToString(u[:])[:24]
}

// dispatchChat is the core handler for /v1/chat/completions and
// /v1/kb/completions. kbRoute forces the knowledge-base family.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx, kbRoute bool) {
	start := time.Now()
	route := "chat_completions"
	if kbRoute {
		route = "kb_completions"
	}
	reqBytes := len(ctx.PostBody())
	family := "unknown"
	cacheLabel := "bypass" // hit|miss|bypass
	inputTokens, outputTokens := 0, 0
	cached := false
	streaming := false
	respBytes := -1

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		if streaming {
			return // finalised by the stream writer
		}
		g.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		if respBytes < 0 {
			respBytes = len(ctx.Response.Body())
		}
		g.metrics.ObserveHTTP(route, status, dur, reqBytes, respBytes)
		g.metrics.RecordRequest(family, status)
		g.metrics.ObserveGatewayRequest(family, route, cacheLabel, dur)
		g.metrics.AddTokens(family, route, inputTokens, outputTokens, cached)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	// 1. Parse request body.
	var req inboundRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		apierr.WriteInvalidRequest(ctx, "field 'messages' must not be empty")
		return
	}
	stop, err := parseStopSequences(req.Stop)
	if err != nil {
		apierr.WriteInvalidRequest(ctx, err.Error())
		return
	}

	// 2. Resolve the Bedrock target.
	target := g.resolver.Resolve(req.Model, req.ModelARN, kbRoute)
	family = target.Family.String()

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.String("family", family),
		slog.String("model_id", target.ModelID),
		slog.Bool("stream", req.Stream),
	)

	// 3. Rate limit check (RPM).
	if g.rpmLimiter != nil {
		allowed, err := g.rpmLimiter.Allow(ctx)
		if err == nil && !allowed {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("blocked")
			}
			g.log.WarnContext(ctx, "rate_limit_exceeded",
				slog.String("request_id", reqID),
				slog.String("family", family),
			)
			apierr.WriteRateLimit(ctx)
			return
		}
		if g.metrics != nil {
			if err != nil {
				g.metrics.RecordRateLimit("error")
			} else {
				g.metrics.RecordRateLimit("allowed")
			}
		}
	}

	// 4. Build the normalized ChatRequest.
	msgs := make([]bedrock.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = bedrock.Message{Role: m.Role, Content: m.Content}
	}

	// Knowledge-base answers are always buffered: RetrieveAndGenerate has no
	// streaming variant, so stream=true downgrades to a single response.
	streamRequested := req.Stream && target.Family == bedrock.FamilyDirectInvoke

	chatReq := &bedrock.ChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stream:      streamRequested,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        stop,
		ModelARN:    req.ModelARN,
		RequestID:   reqID,
	}

	// 5. Cache lookup — non-streaming only; skip excluded models.
	cacheEligible := !streamRequested && g.cache != nil &&
		(g.cacheExclusions == nil || !g.cacheExclusions.Matches(req.Model))
	if g.metrics != nil && !cacheEligible {
		g.metrics.CacheGetBypass()
	}
	var cacheKey string
	if cacheEligible {
		cacheKey = buildCacheKey(chatReq, target)
		if cachedBody, ok := g.cache.Get(ctx, cacheKey); ok {
			cacheLabel = "hit"
			cached = true
			respBytes = len(cachedBody)
			if g.metrics != nil {
				g.metrics.CacheGetHit()
			}
			g.log.DebugContext(ctx, "cache_hit",
				slog.String("request_id", reqID),
				slog.String("model_id", target.ModelID),
			)
			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(cachedBody)

			// Best-effort token extraction from cached payload.
			var cu struct {
				Usage struct {
					PromptTokens     int `json:"prompt_tokens"`
					CompletionTokens int `json:"completion_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal(cachedBody, &cu); err == nil {
				inputTokens = cu.Usage.PromptTokens
				outputTokens = cu.Usage.CompletionTokens
			}

			g.logRequest(reqID, family, req.Model, target.ModelID,
				inputTokens, outputTokens, time.Since(start), fasthttp.StatusOK, true, false)
			return
		}
		cacheLabel = "miss"
		if g.metrics != nil {
			g.metrics.CacheGetMiss()
		}
	}

	// 6a. Streaming — the call runs on a context derived from the server
	// lifetime, not the handler: the body stream writer outlives this
	// function. The writer cancels it once the stream drains or the client
	// goes away.
	if streamRequested {
		streamCtx, cancel := context.WithCancel(g.baseCtx)

		upStart := time.Now()
		res, err := g.invoker.Invoke(streamCtx, chatReq, target)
		if err != nil {
			cancel()
			g.observeInvoke(family, "error", time.Since(upStart), err)
			g.log.ErrorContext(ctx, "bedrock_error",
				slog.String("request_id", reqID),
				slog.String("family", family),
				slog.String("error", err.Error()),
			)
			status := g.writeInvokeError(ctx, err)
			g.logRequest(reqID, family, req.Model, target.ModelID,
				0, 0, time.Since(start), status, false, true)
			return
		}
		g.observeInvoke(family, "success", time.Since(upStart), nil)

		streaming = true
		if g.metrics != nil {
			g.metrics.IncActiveStreams()
		}
		g.writeSSEStream(ctx, cancel, res, sseMeta{
			requestID: reqID,
			alias:     req.Model,
			route:     route,
			family:    family,
			reqBytes:  reqBytes,
			start:     start,
		})
		return
	}

	// 6b. Buffered — bounded by the invoke timeout.
	invCtx, cancel := context.WithTimeout(ctx, g.invokeTimeout)
	defer cancel()

	upStart := time.Now()
	res, err := g.invoker.Invoke(invCtx, chatReq, target)
	if err != nil {
		g.observeInvoke(family, "error", time.Since(upStart), err)
		g.log.ErrorContext(ctx, "bedrock_error",
			slog.String("request_id", reqID),
			slog.String("family", family),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		status := g.writeInvokeError(ctx, err)
		g.logRequest(reqID, family, req.Model, target.ModelID,
			0, 0, time.Since(start), status, false, false)
		return
	}
	g.observeInvoke(family, "success", time.Since(upStart), nil)

	// 7. Build the OpenAI-compatible response envelope.
	msg := outboundMessage{Role: "assistant", Content: res.Content}
	if len(res.Citations) > 0 {
		msg.Metadata = &outboundMetadata{Citations: res.Citations}
	}
	// The model field echoes what the client asked for; the resolved Bedrock
	// ID appears only when the request carried no alias.
	modelName := req.Model
	if modelName == "" {
		modelName = res.ModelID
	}
	out := outboundResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []outboundChoice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: res.FinishReason,
			},
		},
		Usage: outboundUsage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeInternalError)
		return
	}

	// 8. Populate cache for future identical requests.
	if cacheEligible {
		if err := g.cache.Set(ctx, cacheKey, body, g.cacheTTL); err != nil {
			if g.metrics != nil {
				g.metrics.CacheSetError()
			}
		} else if g.metrics != nil {
			g.metrics.CacheSetOK()
		}
	}

	// 9. Emit request log entry asynchronously.
	g.logRequest(reqID, family, req.Model, target.ModelID,
		res.Usage.InputTokens, res.Usage.OutputTokens,
		time.Since(start), fasthttp.StatusOK, false, false)
	inputTokens = res.Usage.InputTokens
	outputTokens = res.Usage.OutputTokens

	g.log.DebugContext(ctx, "response_ok",
		slog.String("request_id", reqID),
		slog.String("family", family),
		slog.String("model_id", res.ModelID),
		slog.Int("input_tokens", res.Usage.InputTokens),
		slog.Int("output_tokens", res.Usage.OutputTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	respBytes = len(body)
}

// ── Native retrieve-and-generate passthrough ──────────────────────────────────

type outboundRetrieveResponse struct {
	Output struct {
		Text string `json:"text"`
	} `json:"output"`
	Citations []bedrock.Citation `json:"citations"`
	Usage     outboundUsage      `json:"usage"`
}

// dispatchRetrieve handles POST /v1/retrieve: the native knowledge-base shape
// without OpenAI translation.
func (g *Gateway) dispatchRetrieve(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "retrieve"
	family := bedrock.FamilyKnowledgeBase.String()
	respBytes := -1

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		if respBytes < 0 {
			respBytes = len(ctx.Response.Body())
		}
		g.metrics.ObserveHTTP(route, status, dur, len(ctx.PostBody()), respBytes)
		g.metrics.RecordRequest(family, status)
		g.metrics.ObserveGatewayRequest(family, route, "bypass", dur)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req bedrock.RetrieveRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if strings.TrimSpace(req.Input.Text) == "" {
		apierr.WriteInvalidRequest(ctx, "field 'input.text' is required")
		return
	}
	if req.KnowledgeBaseID == "" && g.resolver.KnowledgeBaseID() == "" {
		apierr.WriteInvalidRequest(ctx, "no knowledge base configured")
		return
	}

	if g.rpmLimiter != nil {
		allowed, err := g.rpmLimiter.Allow(ctx)
		if err == nil && !allowed {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("blocked")
			}
			apierr.WriteRateLimit(ctx)
			return
		}
	}

	target := g.resolver.Resolve("", req.ModelARN, true)

	invCtx, cancel := context.WithTimeout(ctx, g.invokeTimeout)
	defer cancel()

	upStart := time.Now()
	res, err := g.invoker.Retrieve(invCtx, &req, target)
	if err != nil {
		g.observeInvoke(family, "error", time.Since(upStart), err)
		g.log.ErrorContext(ctx, "bedrock_error",
			slog.String("request_id", reqID),
			slog.String("family", family),
			slog.String("error", err.Error()),
		)
		status := g.writeInvokeError(ctx, err)
		g.logRequest(reqID, family, "", target.ModelID, 0, 0, time.Since(start), status, false, false)
		return
	}
	g.observeInvoke(family, "success", time.Since(upStart), nil)

	out := outboundRetrieveResponse{Citations: res.Citations}
	out.Output.Text = res.Output.Text
	completion := bedrock.EstimateTokens(res.Output.Text)
	out.Usage = outboundUsage{CompletionTokens: completion, TotalTokens: completion}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeInternalError)
		return
	}

	g.logRequest(reqID, family, "", target.ModelID,
		0, completion, time.Since(start), fasthttp.StatusOK, false, false)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	respBytes = len(body)
}

// ── Model listing ─────────────────────────────────────────────────────────────

type (
	modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	modelList struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
)

// dispatchModels handles GET /v1/models: every alias the resolver knows,
// OpenAI-style.
func (g *Gateway) dispatchModels(ctx *fasthttp.RequestCtx) {
	created := time.Now().Unix()
	aliases := g.resolver.Aliases()

	list := modelList{Object: "list", Data: make([]modelEntry, len(aliases))}
	for i, a := range aliases {
		list.Data[i] = modelEntry{
			ID:      a,
			Object:  "model",
			Created: created,
			OwnedBy: "bedrock",
		}
	}
	writeJSON(ctx, list)
}

// ── Shared helpers ────────────────────────────────────────────────────────────

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (g *Gateway) logRequest(
	requestID, family, alias, modelID string,
	inputTokens, outputTokens int,
	latency time.Duration,
	status int,
	isCached, streamed bool,
) {
	if g.reqLogger == nil {
		return
	}

	reqUUID, _ := uuid.Parse(requestID)

	// Clamp to uint16 max so we don't overflow the field.
	latencyMs := uint16(latency.Milliseconds())
	if latency.Milliseconds() > 65535 {
		latencyMs = 65535
	}

	g.reqLogger.Log(logger.RequestLog{
		ID:           reqUUID,
		Family:       family,
		Alias:        alias,
		ModelID:      modelID,
		InputTokens:  uint32(inputTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    latencyMs,
		Status:       uint16(status),
		Cached:       isCached,
		Streamed:     streamed,
		CreatedAt:    time.Now(),
	})
}

func (g *Gateway) observeInvoke(family, outcome string, dur time.Duration, err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.ObserveBedrockCall(family, outcome, dur)
	if err != nil {
		var invokeErr *bedrock.InvokeError
		code := "internal"
		if errors.As(err, &invokeErr) {
			code = invokeErr.Code
		} else if errors.Is(err, context.DeadlineExceeded) {
			code = "timeout"
		}
		g.metrics.RecordError(family, code)
	}
}

// buildCacheKey returns a deterministic SHA-256 cache key for the request.
// The resolved target is included so the same alias cached under different
// resolver configurations never collides.
func buildCacheKey(req *bedrock.ChatRequest, t bedrock.Target) string {
	msgs := make([]inboundMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = inboundMessage{Role: m.Role, Content: m.Content}
	}

	temp := fmt.Sprintf("%.2f", bedrock.DefaultTemperature)
	if req.Temperature != nil {
		temp = fmt.Sprintf("%.2f", *req.Temperature)
	}
	topP := fmt.Sprintf("%.2f", bedrock.DefaultTopP)
	if req.TopP != nil {
		topP = fmt.Sprintf("%.2f", *req.TopP)
	}

	data, _ := json.Marshal(struct {
		F    string           `json:"f"`
		M    string           `json:"m"`
		A    string           `json:"a"`
		T    string           `json:"t"`
		P    string           `json:"p"`
		MT   int              `json:"mt"`
		S    []string         `json:"s"`
		Msgs []inboundMessage `json:"msgs"`
	}{
		t.Family.String(),
		t.ModelID,
		t.ModelARN,
		temp,
		topP,
		req.MaxTokens,
		req.Stop,
		msgs,
	})
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}

// writeInvokeError maps a backend failure to the client-facing envelope and
// returns the status it wrote. The backend's own message stays in the logs;
// clients get the canned wording per category.
func (g *Gateway) writeInvokeError(ctx *fasthttp.RequestCtx, err error) int {
	var invokeErr *bedrock.InvokeError
	if errors.As(err, &invokeErr) {
		apierr.WriteStatus(ctx, invokeErr.HTTPStatus())
		return invokeErr.HTTPStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return fasthttp.StatusGatewayTimeout
	}
	apierr.WriteStatus(ctx, fasthttp.StatusInternalServerError)
	return fasthttp.StatusInternalServerError
}
