package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/llm"
	"github.com/mohammad-safakhou/sentinel/internal/recovery"
)

// Capability names the executor dispatches to.
const (
	CapPlatformSearch = "platform_search"
	CapFetchDetail    = "fetch_detail"
	CapSentiment      = "sentiment"
	CapTimelineQuery  = "timeline_query"
)

// ExecutorConfig tunes the step executor.
type ExecutorConfig struct {
	MaxSubTasks      int
	DefaultPlatforms []string
	MinCredibility   float64
	SearchLimit      int
	Priors           PlatformPriors
}

func (c ExecutorConfig) normalize() ExecutorConfig {
	if c.MaxSubTasks <= 0 {
		c.MaxSubTasks = 5
	}
	if c.MinCredibility <= 0 {
		c.MinCredibility = 0.4
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 20
	}
	if c.Priors == nil {
		c.Priors = DefaultPriors()
	}
	return c
}

// StepExecutor runs one unit of work against a task: plan, search, expand,
// critique or synthesize. Tool and model faults are retried here according
// to the recovery policy; only aborts and cancellations escape.
type StepExecutor struct {
	invoker   *capability.Invoker
	router    *llm.Router
	policy    *recovery.Policy
	extractor KeywordExtractor
	cfg       ExecutorConfig
	logger    *log.Logger
	alerts    *log.Logger
}

// ExecutorOption customises a StepExecutor.
type ExecutorOption func(*StepExecutor)

func WithExtractor(e KeywordExtractor) ExecutorOption {
	return func(x *StepExecutor) { x.extractor = e }
}

func WithExecutorConfig(cfg ExecutorConfig) ExecutorOption {
	return func(x *StepExecutor) { x.cfg = cfg }
}

func WithExecutorLogger(l *log.Logger) ExecutorOption {
	return func(x *StepExecutor) { x.logger = l }
}

// WithAlertLogger sets where operator alerts are written.
func WithAlertLogger(l *log.Logger) ExecutorOption {
	return func(x *StepExecutor) { x.alerts = l }
}

// NewStepExecutor wires the executor. router may be nil, in which case
// planning uses the keyword plan and critique uses source priors only.
func NewStepExecutor(invoker *capability.Invoker, router *llm.Router, policy *recovery.Policy, opts ...ExecutorOption) *StepExecutor {
	x := &StepExecutor{invoker: invoker, router: router, policy: policy, extractor: HeuristicExtractor{}}
	for _, opt := range opts {
		opt(x)
	}
	x.cfg = x.cfg.normalize()
	if x.policy == nil {
		x.policy = recovery.NewPolicy()
	}
	if x.logger == nil {
		x.logger = log.New(log.Writer(), "[EXEC] ", log.LstdFlags)
	}
	if x.alerts == nil {
		x.alerts = log.New(log.Writer(), "[ALERT] ", log.LstdFlags)
	}
	return x
}

// withRecovery calls fn until it succeeds or the policy aborts. Each failure
// moves the task through recovering; a retry returns it to the interrupted
// phase with a note on the resuming step. Retries never consume step budget.
// Attempts are counted per error kind, so each kind gets its own cap.
func (x *StepExecutor) withRecovery(ctx context.Context, r *run, op string, fn func(context.Context) error, substitute func(context.Context) error) error {
	attempts := make(map[recovery.Kind]int)
	for {
		if err := r.checkCancel(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		ce := recovery.Classify(op, err)
		if ce.Kind == recovery.KindCancelled {
			if cerr := r.checkCancel(ctx); cerr != nil {
				return cerr
			}
			return &CancellationError{Reason: ce.Error()}
		}
		r.task.incErrors()
		attempts[ce.Kind]++
		attempt := attempts[ce.Kind]
		verdict := x.policy.Decide(ce.Kind, attempt)
		recoveries.WithLabelValues(string(ce.Kind), string(verdict.Action)).Inc()

		if terr := r.transition(ctx, PhaseRecovering, fmt.Sprintf("%s failed (%s), consulting recovery policy", op, ce.Kind), ce.Error()); terr != nil {
			return terr
		}
		if !verdict.Retry() {
			x.logger.Printf("task %s: %s aborted after %d attempt(s): %v", r.task.ID(), op, attempt, ce)
			return ce
		}
		if verdict.Alert {
			operatorAlerts.WithLabelValues(string(ce.Kind), op).Inc()
			x.alerts.Printf("task %s: %s hit %s, substituting resource once: %v", r.task.ID(), op, ce.Kind, ce.Err)
		}
		if verdict.Action == recovery.RetryWithSubstitution && substitute != nil {
			if serr := substitute(ctx); serr != nil {
				x.logger.Printf("warn: task %s: substitute for %s: %v", r.task.ID(), op, serr)
			}
		}
		if serr := r.sleep(ctx, verdict.Delay); serr != nil {
			return serr
		}
		prior := r.task.priorPhase()
		note := retryNote(ce.Kind, verdict, attempt+1, x.policy.MaxAttempts(ce.Kind))
		if terr := r.transition(ctx, prior, fmt.Sprintf("Resuming %s", prior), note); terr != nil {
			return terr
		}
	}
}

func retryNote(kind recovery.Kind, v recovery.Verdict, attempt, max int) string {
	reason := string(kind)
	switch kind {
	case recovery.KindRateLimited:
		reason = "rate limit"
	case recovery.KindNetwork:
		reason = "network fault"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "retried after %s", reason)
	if v.Action == recovery.RetryWithSubstitution {
		b.WriteString(" with substituted resource")
	}
	if v.Delay > 0 {
		fmt.Fprintf(&b, " (backoff %s)", v.Delay)
	}
	fmt.Fprintf(&b, ", attempt %d of %d", attempt, max)
	if v.Alert {
		b.WriteString(", operator alerted")
	}
	return b.String()
}

// complete routes a model call with recovery and accounts its tokens.
func (x *StepExecutor) complete(ctx context.Context, r *run, req llm.Request) (llm.Completion, error) {
	var out llm.Completion
	var tokens int64
	err := x.withRecovery(ctx, r, string(req.Purpose), func(ctx context.Context) error {
		c, err := x.router.Complete(ctx, req)
		r.addTokens(string(req.Purpose), c.Tokens)
		tokens += c.Tokens
		out = c
		return err
	}, nil)
	out.Tokens = tokens
	return out, err
}

// invoke calls a capability with recovery and returns the successful result
// together with the tokens spent across attempts.
func (x *StepExecutor) invoke(ctx context.Context, r *run, name string, args capability.Arguments) (capability.Result, int64, error) {
	var res capability.Result
	var tokens int64
	err := x.withRecovery(ctx, r, name, func(ctx context.Context) error {
		var err error
		res, err = x.invoker.Invoke(ctx, name, args)
		r.addTokens(name, res.Tokens)
		tokens += res.Tokens
		return err
	}, func(ctx context.Context) error {
		return x.invoker.Substitute(ctx, name, args)
	})
	return res, tokens, err
}

func capabilityFor(kind SubTaskKind) (string, Phase, string) {
	switch kind {
	case SubTaskScrape:
		return CapFetchDetail, PhaseScraping, "scrape"
	case SubTaskMemory:
		return CapTimelineQuery, PhaseSearching, "memory"
	}
	return CapPlatformSearch, PhaseSearching, "search"
}

// Search runs one sub-task: invoke, merge items, queue discovered keywords.
func (x *StepExecutor) Search(ctx context.Context, r *run, st SubTask) error {
	name, _, action := capabilityFor(st.Kind)
	thought := fmt.Sprintf("Searching %s for %q", platformLabel(st.Platforms), st.Query)
	switch st.Kind {
	case SubTaskScrape:
		thought = fmt.Sprintf("Fetching details from %d source(s)", len(st.URLs))
	case SubTaskMemory:
		thought = fmt.Sprintf("Querying stored intelligence for %q", st.Query)
	}
	return x.collect(ctx, r, name, action, thought, st)
}

// Expand searches one discovered keyword with the task's default scope.
func (x *StepExecutor) Expand(ctx context.Context, r *run, keyword string) error {
	st := SubTask{Kind: SubTaskSearch, Query: keyword, Platforms: r.opts.Platforms}
	if len(st.Platforms) == 0 {
		st.Platforms = x.cfg.DefaultPlatforms
	}
	return x.collect(ctx, r, CapPlatformSearch, "expand", fmt.Sprintf("Following up on discovered keyword %q", keyword), st)
}

func (x *StepExecutor) collect(ctx context.Context, r *run, name, action, thought string, st SubTask) error {
	start := time.Now()
	since, until := timeRange(st, r.opts)
	args := capability.Arguments{"query": st.Query, "limit": firstPositive(st.Limit, x.cfg.SearchLimit)}
	if len(st.Platforms) > 0 {
		args["platforms"] = st.Platforms
	}
	if len(st.URLs) > 0 {
		args["urls"] = st.URLs
	}
	if since != nil {
		args["since"] = *since
	}
	if until != nil {
		args["until"] = *until
	}

	res, tokens, err := x.invoke(ctx, r, name, args)
	if err != nil {
		return err
	}
	items := filterByTime(res.Output.Items, since, until)
	added := r.task.mergeItems(items)

	candidates := append([]string(nil), res.Output.Keywords...)
	if x.extractor != nil && len(items) > 0 {
		kws, extra, err := x.extractor.Extract(ctx, st.Query, items)
		r.addTokens("keywords", extra)
		tokens += extra
		if err != nil {
			x.logger.Printf("warn: task %s: keyword extraction: %v", r.task.ID(), err)
		}
		candidates = append(candidates, kws...)
	}
	queued := r.task.pushKeywords(candidates)

	obs := "0 items"
	if len(items) > 0 {
		obs = fmt.Sprintf("%d items (%d new)", len(items), added)
		if dropped := len(res.Output.Items) - len(items); dropped > 0 {
			obs += fmt.Sprintf(", %d outside time range", dropped)
		}
	}
	if len(queued) > 0 {
		obs += "; queued keywords: " + strings.Join(queued, ", ")
	}
	r.emit(ctx, thought, action, obs, tokens, time.Since(start))
	return nil
}

func platformLabel(platforms []string) string {
	if len(platforms) == 0 {
		return "all platforms"
	}
	return strings.Join(platforms, ", ")
}

func timeRange(st SubTask, opts SubmitOptions) (since, until *time.Time) {
	since, until = st.Since, st.Until
	if since == nil {
		since = opts.Since
	}
	if until == nil {
		until = opts.Until
	}
	return since, until
}

// filterByTime drops items whose timestamp falls outside the range. Items
// without a timestamp are always kept.
func filterByTime(items []capability.Item, since, until *time.Time) []capability.Item {
	if since == nil && until == nil {
		return items
	}
	out := make([]capability.Item, 0, len(items))
	for _, it := range items {
		if it.PublishedAt != nil {
			if since != nil && it.PublishedAt.Before(*since) {
				continue
			}
			if until != nil && it.PublishedAt.After(*until) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
