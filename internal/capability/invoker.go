package capability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/recovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var invokerTracer trace.Tracer = otel.Tracer("sentinel/internal/capability")

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_tool_invocations_total",
		Help: "Capability invocations by outcome (ok or error kind).",
	}, []string{"capability", "outcome"})
	invocationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_tool_invocation_seconds",
		Help:    "Capability invocation latency including rate-limit wait.",
		Buckets: prometheus.DefBuckets,
	}, []string{"capability"})
)

// DefaultTimeout bounds a single capability call.
const DefaultTimeout = 30 * time.Second

// RateLimiter hands out permits per resource class. Acquire may block.
type RateLimiter interface {
	Acquire(ctx context.Context, class string) error
}

// Substituter switches the underlying resource (proxy, credential) of a class.
type Substituter interface {
	Rotate(ctx context.Context, class string) error
}

// Invoker executes single capability calls with a uniform contract: acquire a
// rate-limit permit, dispatch once under a timeout, classify any fault. It
// never retries.
type Invoker struct {
	registry    *Registry
	limiter     RateLimiter
	substituter Substituter
	timeout     time.Duration
	logger      *log.Logger
}

// InvokerOption customises an Invoker.
type InvokerOption func(*Invoker)

func WithRateLimiter(l RateLimiter) InvokerOption { return func(iv *Invoker) { iv.limiter = l } }

func WithSubstituter(s Substituter) InvokerOption { return func(iv *Invoker) { iv.substituter = s } }

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) InvokerOption {
	return func(iv *Invoker) {
		if d > 0 {
			iv.timeout = d
		}
	}
}

func WithLogger(l *log.Logger) InvokerOption { return func(iv *Invoker) { iv.logger = l } }

// NewInvoker builds an invoker over reg.
func NewInvoker(reg *Registry, opts ...InvokerOption) *Invoker {
	iv := &Invoker{registry: reg, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(iv)
	}
	if iv.logger == nil {
		iv.logger = log.New(log.Writer(), "[INVOKE] ", log.LstdFlags)
	}
	return iv
}

// Registry returns the registry the invoker dispatches into.
func (iv *Invoker) Registry() *Registry { return iv.registry }

type execResult struct {
	out Output
	err error
}

// Invoke runs one call. On failure the returned error is always a
// *recovery.ClassifiedError and the Result carries the duration and message.
func (iv *Invoker) Invoke(ctx context.Context, name string, args Arguments) (Result, error) {
	start := time.Now()
	res := Result{Capability: name}
	ctx, span := invokerTracer.Start(ctx, "capability.invoke", trace.WithAttributes(attribute.String("capability", name)))
	defer span.End()

	fail := func(ce *recovery.ClassifiedError) (Result, error) {
		res.Duration = time.Since(start)
		res.Error = ce.Error()
		span.RecordError(ce)
		span.SetStatus(codes.Error, string(ce.Kind))
		invocationsTotal.WithLabelValues(name, string(ce.Kind)).Inc()
		invocationSeconds.WithLabelValues(name).Observe(res.Duration.Seconds())
		return res, ce
	}

	c, err := iv.registry.Get(name)
	if err != nil {
		return fail(recovery.New(recovery.KindUnclassified, name, err))
	}
	class := resourceClass(c, args)
	if iv.limiter != nil {
		if err := iv.limiter.Acquire(ctx, class); err != nil {
			return fail(recovery.Classify(name, fmt.Errorf("acquire %s: %w", class, err)))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()
	done := make(chan execResult, 1)
	go func() {
		out, err := c.Execute(callCtx, args)
		done <- execResult{out: out, err: err}
	}()

	var r execResult
	select {
	case r = <-done:
	case <-callCtx.Done():
		r = execResult{err: callCtx.Err()}
	}
	if r.err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(recovery.New(recovery.KindTimeout, name, fmt.Errorf("exceeded %s: %w", iv.timeout, r.err)))
		}
		return fail(recovery.Classify(name, r.err))
	}

	res.Success = true
	res.Output = r.out
	res.Tokens = r.out.Tokens
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("items", len(r.out.Items)))
	invocationsTotal.WithLabelValues(name, "ok").Inc()
	invocationSeconds.WithLabelValues(name).Observe(res.Duration.Seconds())
	return res, nil
}

// Substitute rotates the resource behind the capability's class ahead of a retry.
func (iv *Invoker) Substitute(ctx context.Context, name string, args Arguments) error {
	if iv.substituter == nil {
		return nil
	}
	c, err := iv.registry.Get(name)
	if err != nil {
		return err
	}
	class := resourceClass(c, args)
	if err := iv.substituter.Rotate(ctx, class); err != nil {
		iv.logger.Printf("warn: rotate %s: %v", class, err)
		return err
	}
	return nil
}

func resourceClass(c Capability, args Arguments) string {
	if cl, ok := c.(Classed); ok {
		if class := cl.ResourceClass(args); class != "" {
			return class
		}
	}
	d := c.Describe()
	if d.ResourceClass != "" {
		return d.ResourceClass
	}
	return d.Name
}
