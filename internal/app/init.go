package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/corewire/bedrock-gateway/internal/bedrock"
	bgCache "github.com/corewire/bedrock-gateway/internal/cache"
	"github.com/corewire/bedrock-gateway/internal/logger"
	"github.com/corewire/bedrock-gateway/internal/metrics"
	"github.com/corewire/bedrock-gateway/internal/proxy"
	"github.com/corewire/bedrock-gateway/internal/ratelimit"
)

// initInfra establishes optional external connections.
// Redis is required when CACHE_MODE=redis or RPM_LIMIT > 0.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" || a.cfg.RateLimit.RPMLimit > 0 {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initBedrock builds the AWS service clients, the model resolver, and the
// invoker. Static credentials are used when AWS_ACCESS_KEY_ID is set;
// otherwise the SDK's default chain applies (shared config, instance role).
func (a *App) initBedrock(ctx context.Context) error {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(a.cfg.AWS.Region),
	}
	if a.cfg.AWS.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				a.cfg.AWS.AccessKey, a.cfg.AWS.SecretKey, a.cfg.AWS.SessionToken,
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}

	endpoint := a.cfg.AWS.EndpointURL
	runtime := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	agent := bedrockagentruntime.NewFromConfig(awsCfg, func(o *bedrockagentruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	a.resolver = bedrock.NewResolver(bedrock.ResolverConfig{
		Aliases:         a.cfg.Models.Aliases,
		DefaultModel:    a.cfg.Models.DefaultModel,
		ModelARN:        a.cfg.KnowledgeBase.ModelARN,
		KnowledgeBaseID: a.cfg.KnowledgeBase.ID,
		Region:          a.cfg.AWS.Region,
	})

	a.invoker = bedrock.NewInvoker(bedrock.InvokerConfig{
		Runtime:         runtime,
		Agent:           agent,
		KnowledgeBaseID: a.cfg.KnowledgeBase.ID,
		KBNumResults:    int32(a.cfg.KnowledgeBase.NumResults),
	})

	a.log.Info("bedrock clients ready",
		slog.String("default_model", a.resolver.Resolve("", "", false).ModelID),
		slog.Int("aliases", len(a.resolver.Aliases())),
	)

	return nil
}

// initServices creates the cache backend, the async request logger, and the
// Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// ExactCache wraps the already-connected Redis client.
		a.log.Info("cache backend: redis")

	case "memory":
		// MemoryCache — zero external dependencies, not shared across replicas.
		a.memCache = bgCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	reqLogger, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	// ── Determine cache implementation ────────────────────────────────────────
	var cacheImpl bgCache.Cache
	var cacheReady func() bool

	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = bgCache.NewExactCacheFromClient(a.rdb)
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheImpl = a.memCache
		cacheReady = func() bool { return true }
	case "none":
		// nil cache — gateway handles nil gracefully (no caching)
	}

	// ── Build the gateway ────────────────────────────────────────────────────
	opts := proxy.GatewayOptions{
		Logger:        a.log,
		InvokeTimeout: a.cfg.InvokeTimeout,
		CacheTTL:      a.cfg.Cache.TTL,
		Metrics:       a.prom,
	}

	gw := proxy.NewGatewayWithOptions(a.baseCtx, a.invoker, a.resolver, cacheImpl, cacheReady, opts)

	// ── Optional subsystems ──────────────────────────────────────────────────

	// Rate limiting — only when Redis is available.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		gw.SetRateLimiters(ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit))
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	// Async request logger.
	gw.SetLogger(a.reqLogger)

	// CORS.
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := bgCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		gw.SetCacheExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	// ── Management routes ────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}
