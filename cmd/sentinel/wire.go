package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/sentinel/config"
	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/knowledge"
	"github.com/mohammad-safakhou/sentinel/internal/llm"
	"github.com/mohammad-safakhou/sentinel/internal/queue/streams"
	"github.com/mohammad-safakhou/sentinel/internal/recovery"
	"github.com/mohammad-safakhou/sentinel/internal/resource"
	"github.com/mohammad-safakhou/sentinel/internal/scheduler"
	"github.com/mohammad-safakhou/sentinel/internal/store"
	"github.com/mohammad-safakhou/sentinel/internal/tools"
)

const resourcePrefix = "sentinel:res"

// app is the assembled agent: orchestrator plus everything it needs.
type app struct {
	cfg      *config.Config
	orch     *core.Orchestrator
	registry *capability.Registry
	redis    *redis.Client
	closers  []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix+" ", log.LstdFlags)
}

// build wires the orchestrator from cfg. ctx bounds startup calls and is the
// base context of every task.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redis = rdb
		a.closers = append(a.closers, rdb)
	}

	pool, limiter, err := a.resources(ctx)
	if err != nil {
		return fail(err)
	}

	var router *llm.Router
	if cfg.LLM.Enabled() {
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout,
			Light:   llm.TierModel{Name: cfg.LLM.LightModel, Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens},
			Heavy:   llm.TierModel{Name: cfg.LLM.HeavyModel, Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens},
		})
		router = llm.NewRouter(client, cfg.LLM.LengthThreshold)
	}

	index, err := knowledge.Open(cfg.Knowledge.IndexPath)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, index)

	httpClient := tools.NewHTTPClient(cfg.Sources.HTTPTimeout, pool)
	search := tools.NewPlatformSearch(providers(cfg, httpClient), cfg.Agent.DefaultPlatforms, limiter, newLogger("[SEARCH]"))

	var fetcher tools.Fetcher = tools.HTTPFetcher{Client: tools.NewHTTPClient(cfg.Fetch.Timeout, pool)}
	if cfg.Fetch.Mode == "chromedp" {
		fetcher = tools.ChromeFetcher{UserAgent: cfg.Fetch.UserAgent}
	}
	fetch := tools.NewFetchDetail(fetcher, cfg.Fetch.MaxChars, newLogger("[FETCH]")).WithPolicy(cfg.Fetch.Policy)

	registry, err := capability.NewRegistry(search, fetch, tools.NewSentiment(router), tools.NewTimelineQuery(index))
	if err != nil {
		return fail(err)
	}
	a.registry = registry

	invoker := capability.NewInvoker(registry,
		capability.WithRateLimiter(limiter),
		capability.WithSubstituter(pool),
		capability.WithTimeout(cfg.Agent.ToolTimeout),
		capability.WithLogger(newLogger("[INVOKE]")),
	)

	priors := core.DefaultPriors()
	for platform, p := range cfg.Sources.Priors {
		priors[platform] = p
	}
	execOpts := []core.ExecutorOption{
		core.WithExecutorConfig(core.ExecutorConfig{
			MaxSubTasks:      cfg.Agent.MaxSubTasks,
			DefaultPlatforms: cfg.Agent.DefaultPlatforms,
			MinCredibility:   cfg.Agent.MinCredibility,
			SearchLimit:      cfg.Agent.SearchLimit,
			Priors:           priors,
		}),
		core.WithExecutorLogger(newLogger("[EXEC]")),
	}
	if router != nil {
		execOpts = append(execOpts, core.WithExtractor(core.ModelExtractor{Router: router}))
	}
	policy := recovery.NewPolicy(recovery.WithBackoff(cfg.Recovery.BaseDelay, cfg.Recovery.MaxDelay))
	exec := core.NewStepExecutor(invoker, router, policy, execOpts...)

	orchCfg := core.Config{
		MaxSteps:      cfg.Agent.MaxSteps,
		TaskTimeout:   cfg.Agent.TaskTimeout,
		MaxConcurrent: cfg.Agent.MaxConcurrentTasks,
		EventBuffer:   cfg.Agent.EventBuffer,
	}
	if cfg.Agent.MaxTokens > 0 {
		limit := cfg.Agent.MaxTokens
		orchCfg.MaxTokens = &limit
	}
	orchOpts := []core.Option{
		core.WithConfig(orchCfg),
		core.WithIndexer(index),
		core.WithBaseContext(context.WithoutCancel(ctx)),
		core.WithLogger(newLogger("[ORCH]")),
	}

	st, err := a.taskStore(ctx)
	if err != nil {
		return fail(err)
	}
	orchOpts = append(orchOpts, core.WithStore(st))

	if cfg.Streams.Enabled {
		sink, err := a.sink()
		if err != nil {
			return fail(err)
		}
		orchOpts = append(orchOpts, core.WithSink(sink))
	}

	a.orch = core.NewOrchestrator(exec, orchOpts...)
	return a, nil
}

// resources picks the proxy pool and rate limiter: Redis-backed when Redis
// is configured so several instances share scores and pacing.
func (a *app) resources(ctx context.Context) (resource.Pool, capability.RateLimiter, error) {
	cfg := a.cfg.Sources
	rates := resource.DefaultRates()
	for class, r := range cfg.Rates {
		rates[class] = r
	}
	res := make([]resource.Resource, 0, len(cfg.Resources))
	for _, r := range cfg.Resources {
		res = append(res, resource.Resource{ID: r.ID, Proxy: r.Proxy, Cookie: r.Cookie, UserAgent: r.UserAgent, Score: r.Score})
	}

	if a.redis == nil {
		return resource.NewStaticPool(res), resource.NewLocalLimiter(rates, cfg.DefaultRate, cfg.Burst), nil
	}
	pool := resource.NewRedisPool(a.redis, resourcePrefix)
	if len(res) > 0 {
		for _, class := range resourceClasses(a.cfg) {
			if err := pool.Seed(ctx, class, res); err != nil {
				return nil, nil, fmt.Errorf("seed resource pool: %w", err)
			}
		}
	}
	return pool, resource.NewRedisLimiter(a.redis, resourcePrefix+":rate", rates, cfg.DefaultRate), nil
}

func resourceClasses(cfg *config.Config) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for platform := range tools.PlatformSites {
		add("platform:" + platform)
		add("fetch:" + platform)
	}
	for _, platform := range cfg.Agent.DefaultPlatforms {
		add("platform:" + platform)
	}
	add("platform:news")
	add("fetch:web")
	return out
}

// providers maps each platform to its search backend. Social platforms use
// site-restricted web search unless a dedicated crawler endpoint is set.
func providers(cfg *config.Config, client *tools.HTTPClient) map[string]tools.Provider {
	out := make(map[string]tools.Provider)
	for platform, site := range tools.PlatformSites {
		if cfg.Sources.Engine == "brave" {
			out[platform] = tools.BraveProvider{Client: client, APIKey: cfg.Sources.Brave.APIKey, Endpoint: cfg.Sources.Brave.Endpoint, Platform: platform, Site: site}
		} else {
			out[platform] = tools.SerperProvider{Client: client, APIKey: cfg.Sources.Serper.APIKey, Endpoint: cfg.Sources.Serper.Endpoint, Platform: platform, Site: site}
		}
	}
	out["news"] = tools.NewsAPIProvider{Client: client, APIKey: cfg.Sources.NewsAPI.APIKey, Endpoint: cfg.Sources.NewsAPI.Endpoint}
	for platform, p := range cfg.Sources.Endpoints {
		out[platform] = tools.EndpointProvider{Client: client, Endpoint: p.Endpoint, APIKey: p.APIKey, Platform: platform}
	}
	return out
}

// taskStore returns Postgres when configured, otherwise an in-memory store.
func (a *app) taskStore(ctx context.Context) (core.Store, error) {
	if !a.cfg.Storage.Postgres.Enabled() {
		return store.NewMemory(), nil
	}
	pg, err := store.NewWithDSN(ctx, a.cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg)
	return pg, nil
}

func (a *app) streamsRegistry() (*streams.SchemaRegistry, error) {
	reg := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(reg); err != nil {
		return nil, fmt.Errorf("register stream schemas: %w", err)
	}
	return reg, nil
}

func (a *app) sink() (*streams.Sink, error) {
	reg, err := a.streamsRegistry()
	if err != nil {
		return nil, err
	}
	pub := streams.NewPublisher(a.redis, reg)
	return streams.NewSink(pub, a.cfg.Streams.Stream, a.cfg.Streams.MaxLen, newLogger("[STREAM]")), nil
}

// newScheduler builds the monitor scheduler, sharing slots over Redis when
// it is available.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	monitors := make([]scheduler.Monitor, 0, len(a.cfg.Scheduler.Monitors))
	for _, m := range a.cfg.Scheduler.Monitors {
		monitors = append(monitors, scheduler.Monitor{
			Name:      m.Name,
			Command:   m.Command,
			Cron:      m.Cron,
			Platforms: m.Platforms,
			MaxSteps:  m.MaxSteps,
			Lookback:  m.Lookback,
		})
	}
	opts := []scheduler.Option{
		scheduler.WithLogger(newLogger("[SCHED]")),
		scheduler.WithInterval(a.cfg.Scheduler.Interval),
	}
	if a.redis != nil {
		opts = append(opts, scheduler.WithLocker(scheduler.RedisLocker{Client: a.redis}))
	}
	return scheduler.New(a.orch, monitors, opts...)
}
