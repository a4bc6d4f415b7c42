package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgateway/constraint"
	"github.com/jonwraymond/toolgateway/discovery"
	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/metrics"
	"github.com/jonwraymond/toolgateway/naming"
	"github.com/jonwraymond/toolgateway/provider"
	"github.com/jonwraymond/toolgateway/registry"
	"github.com/jonwraymond/toolgateway/resilience"
	"github.com/jonwraymond/toolgateway/session"
)

// Operation names a dispatched request type.
type Operation string

const (
	OpToolCall     Operation = "tools/call"
	OpResourceRead Operation = "resources/read"
	OpPromptGet    Operation = "prompts/get"
)

// Rate limit categories.
const (
	CategoryToolCall     = "tool_call"
	CategoryResourceRead = "resource_read"
	CategoryPromptGet    = "prompt_get"
)

func (op Operation) limitCategory() string {
	switch op {
	case OpResourceRead:
		return CategoryResourceRead
	case OpPromptGet:
		return CategoryPromptGet
	default:
		return CategoryToolCall
	}
}

func (op Operation) kind() registry.CapabilityKind {
	switch op {
	case OpResourceRead:
		return registry.KindResource
	case OpPromptGet:
		return registry.KindPrompt
	default:
		return registry.KindTool
	}
}

// Limits and defaults.
const (
	MaxNameLength          = 512
	MaxURILength           = 4096
	DefaultMaxPayloadBytes = 1 << 20
	DefaultActivityTimeout = 5 * time.Second
)

// Timeouts bound downstream calls per operation.
type Timeouts struct {
	ToolCall     time.Duration
	ResourceRead time.Duration
	PromptGet    time.Duration
}

// DefaultTimeouts returns the default per-operation timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ToolCall:     60 * time.Second,
		ResourceRead: 30 * time.Second,
		PromptGet:    30 * time.Second,
	}
}

func (t Timeouts) forOp(op Operation) time.Duration {
	def := DefaultTimeouts()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch op {
	case OpResourceRead:
		return pick(t.ResourceRead, def.ResourceRead)
	case OpPromptGet:
		return pick(t.PromptGet, def.PromptGet)
	default:
		return pick(t.ToolCall, def.ToolCall)
	}
}

// Options configures a Dispatcher.
type Options struct {
	Discovery *discovery.Discovery
	// Limits holds the per-operation rate limits, keyed by the Category*
	// constants. Nil means unlimited.
	Limits *resilience.LimiterSet
	// Breaker configures the per-provider circuit breakers.
	Breaker resilience.BreakerConfig
	// Retry configures downstream retries.
	Retry    resilience.Policy
	Timeouts Timeouts
	// MaxPayloadBytes caps the JSON size of arguments. Default: 1 MiB.
	MaxPayloadBytes int
	// Activity receives a record per request. Optional.
	Activity        ActivityLogger
	ActivityTimeout time.Duration
	// DisableBuiltins skips registering search_capabilities and
	// list_providers.
	DisableBuiltins bool

	Clock   resilience.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher executes client capability requests against providers.
type Dispatcher struct {
	opts     Options
	log      zerolog.Logger
	disc     *discovery.Discovery
	reg      *registry.Registry
	sessions *session.Registry

	limits         *resilience.LimiterSet
	providerLimits *resilience.LimiterSet
	breakers       *resilience.BreakerSet

	mu           sync.RWMutex
	builtins     map[string]builtin
	builtinOrder []string

	side sync.WaitGroup
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Discovery == nil {
		return nil, errors.New("dispatch: discovery is required")
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = DefaultActivityTimeout
	}
	if opts.Limits == nil {
		opts.Limits = resilience.NewLimiterSet(nil, opts.Clock)
	}

	d := &Dispatcher{
		opts:           opts,
		log:            logging.Component(opts.Logger, "dispatch"),
		disc:           opts.Discovery,
		reg:            opts.Discovery.Registry(),
		sessions:       opts.Discovery.Sessions(),
		limits:         opts.Limits,
		providerLimits: resilience.NewLimiterSet(nil, opts.Clock),
		builtins:       make(map[string]builtin),
	}

	breakerCfg := opts.Breaker
	breakerCfg.Clock = opts.Clock
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		d.log.Warn().Str("class", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker transition")
		opts.Metrics.SetBreakerState(name, int(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	d.breakers = resilience.NewBreakerSet(breakerCfg)

	if !opts.DisableBuiltins {
		d.registerDefaultBuiltins()
	}
	return d, nil
}

// Discovery returns the discovery instance backing the registry.
func (d *Dispatcher) Discovery() *discovery.Discovery { return d.disc }

// Breakers exposes the per-provider circuit breakers.
func (d *Dispatcher) Breakers() *resilience.BreakerSet { return d.breakers }

// Wait blocks until pending activity records are delivered.
func (d *Dispatcher) Wait() { d.side.Wait() }

// CallTool dispatches a tools/call.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var result *mcp.CallToolResult
	err := d.run(ctx, OpToolCall, name, args, func(ctx context.Context, conn *session.Connection, e registry.Entry, meta mcp.Meta) error {
		res, err := conn.CallTool(ctx, e.OriginalName, args, meta)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, func(ctx context.Context, b builtin) error {
		res, err := b.handler(ctx, args)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadResource dispatches a resources/read.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	var result *mcp.ReadResourceResult
	err := d.run(ctx, OpResourceRead, uri, nil, func(ctx context.Context, conn *session.Connection, e registry.Entry, meta mcp.Meta) error {
		res, err := conn.ReadResource(ctx, e.OriginalName, meta)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetPrompt dispatches a prompts/get.
func (d *Dispatcher) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	var result *mcp.GetPromptResult
	err := d.run(ctx, OpPromptGet, name, args, func(ctx context.Context, conn *session.Connection, e registry.Entry, meta mcp.Meta) error {
		res, err := conn.GetPrompt(ctx, e.OriginalName, args, meta)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type forwardFunc func(ctx context.Context, conn *session.Connection, e registry.Entry, meta mcp.Meta) error

type builtinFunc func(ctx context.Context, b builtin) error

func (d *Dispatcher) run(ctx context.Context, op Operation, name string, payload any, forward forwardFunc, local builtinFunc) error {
	start := time.Now()
	act := Activity{Operation: op, Capability: name, At: start}

	err := d.execute(ctx, op, name, payload, forward, local, &act)

	act.Elapsed = time.Since(start)
	var public *resilience.Error
	if err != nil {
		public = resilience.Public(err)
		act.Category = public.Category
		d.log.Warn().
			Str("operation", string(op)).
			Str("capability", name).
			Str("provider", act.ProviderID).
			Str("category", string(public.Category)).
			Err(err).
			Dur("elapsed", act.Elapsed).
			Msg("request failed")
	} else {
		act.Success = true
		d.log.Debug().
			Str("operation", string(op)).
			Str("capability", name).
			Str("provider", act.ProviderID).
			Dur("elapsed", act.Elapsed).
			Msg("request complete")
	}

	category := "SUCCESS"
	if public != nil {
		category = string(public.Category)
	}
	d.opts.Metrics.ObserveRequest(string(op), category, act.Elapsed)
	d.recordActivity(ctx, act)

	if public != nil {
		return public
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, op Operation, name string, payload any, forward forwardFunc, local builtinFunc, act *Activity) error {
	// 1. validate
	if err := d.validate(op, name, payload); err != nil {
		d.opts.Metrics.Reject("validation")
		return err
	}

	// 2. rate limit
	if !d.limits.Allow(op.limitCategory()) {
		d.opts.Metrics.Reject("rate_limit")
		return resilience.NewError(resilience.CategoryRateLimit, "", fmt.Errorf("%w: %s", resilience.ErrRateLimitExceeded, op.limitCategory()))
	}

	// 3. resolve
	if op == OpToolCall && local != nil {
		if b, ok := d.builtin(name); ok {
			return local(ctx, b)
		}
	}
	d.ensure(ctx)
	entry, ok := d.resolve(op.kind(), name)
	if !ok {
		d.opts.Metrics.Reject("not_found")
		return resilience.NewError(resilience.CategoryResourceNotFound,
			fmt.Sprintf("Unknown %s %q", op.kind(), name), nil)
	}
	act.ProviderID = entry.ProviderID

	// 4. provider id
	if !provider.ValidID(entry.ProviderID) {
		d.opts.Metrics.Reject("validation")
		return resilience.NewError(resilience.CategoryValidation, "", fmt.Errorf("malformed provider id %q", entry.ProviderID))
	}
	state, ok := d.disc.Provider(entry.ProviderID)
	if !ok {
		d.opts.Metrics.Reject("not_found")
		return resilience.NewError(resilience.CategoryResourceNotFound, "", fmt.Errorf("provider %s is no longer registered", entry.ProviderID))
	}

	// 5. authorize
	if err := constraint.Check(state.Constraints, entry.OriginalName); err != nil {
		d.opts.Metrics.Reject("constraint")
		return resilience.NewError(resilience.CategoryAuthorization, "Access denied: "+err.Error(), err)
	}
	if rl := state.Constraints.RateLimit; rl != nil {
		d.providerLimits.Configure(entry.ProviderID, resilience.Limit{MaxRequests: rl.MaxRequests, Window: rl.Window})
		if !d.providerLimits.Allow(entry.ProviderID) {
			d.opts.Metrics.Reject("provider_rate_limit")
			return resilience.NewError(resilience.CategoryRateLimit,
				"Rate limit exceeded for this provider, try again later", resilience.ErrRateLimitExceeded)
		}
	} else {
		d.providerLimits.Remove(entry.ProviderID)
	}

	// 6-7. acquire and forward
	meta := mcp.Meta{
		"gateway/provider": map[string]any{
			"id":         entry.ProviderID,
			"identifier": entry.Identifier,
		},
		"gateway/constraints": state.Constraints.Summary(),
	}

	callCtx, cancel := logging.DetachWithTimeout(ctx, d.opts.Timeouts.forOp(op))
	defer cancel()

	policy := d.opts.Retry
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = retryable
	}
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		d.log.Debug().Str("provider", entry.ProviderID).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying provider call")
		if userOnRetry != nil {
			userOnRetry(attempt, delay, err)
		}
	}

	breaker := d.breakers.Get("provider:" + entry.ProviderID)
	return breaker.Execute(callCtx, func(ctx context.Context) error {
		return resilience.Retry(ctx, policy, func(ctx context.Context) error {
			conn, err := d.sessions.GetOrCreate(ctx, state.SessionKey, entry.ProviderID, state.Provider.Params)
			if err != nil {
				return providerError(err)
			}
			err = providerError(forward(ctx, conn, entry, meta))
			if err != nil && transportBroken(err) {
				d.sessions.Invalidate(state.SessionKey)
			}
			return err
		})
	})
}

func (d *Dispatcher) validate(op Operation, name string, payload any) error {
	limit := MaxNameLength
	if op == OpResourceRead {
		limit = MaxURILength
	}
	if name == "" {
		return resilience.NewError(resilience.CategoryValidation, "", errors.New("name is required"))
	}
	if len(name) > limit {
		return resilience.NewError(resilience.CategoryValidation, "", fmt.Errorf("name exceeds %d bytes", limit))
	}
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return resilience.NewError(resilience.CategoryValidation, "", fmt.Errorf("encode arguments: %w", err))
	}
	if len(data) > d.opts.MaxPayloadBytes {
		return resilience.NewError(resilience.CategoryValidation,
			fmt.Sprintf("Arguments exceed %d bytes", d.opts.MaxPayloadBytes), nil)
	}
	return nil
}

// resolve finds the registry entry for name. Resources are matched by URI
// only; tools and prompts fall back to parsing the prefix.
func (d *Dispatcher) resolve(kind registry.CapabilityKind, name string) (registry.Entry, bool) {
	if e, ok := d.reg.Lookup(kind, name); ok {
		return e, true
	}
	if kind == registry.KindResource {
		return registry.Entry{}, false
	}
	parsed, ok := naming.ParsePrefixedName(name, d.reg.KnownIdentifier)
	if !ok {
		return registry.Entry{}, false
	}
	return d.reg.Find(kind, parsed.OriginalName, parsed.Identifier)
}

func (d *Dispatcher) builtin(name string) (builtin, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.builtins[name]
	return b, ok
}

func (d *Dispatcher) recordActivity(ctx context.Context, act Activity) {
	sink := d.opts.Activity
	if sink == nil {
		return
	}
	d.side.Add(1)
	go func() {
		defer d.side.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Warn().Interface("panic", r).Msg("activity logger panicked")
			}
		}()
		logCtx, cancel := logging.DetachWithTimeout(ctx, d.opts.ActivityTimeout)
		defer cancel()
		if err := sink.LogActivity(logCtx, act); err != nil {
			d.log.Debug().Err(err).Msg("activity log failed")
		}
	}()
}
