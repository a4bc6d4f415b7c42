package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolgateway/constraint"
	"github.com/jonwraymond/toolgateway/logging"
	"github.com/jonwraymond/toolgateway/metrics"
	"github.com/jonwraymond/toolgateway/naming"
	"github.com/jonwraymond/toolgateway/provider"
	"github.com/jonwraymond/toolgateway/registry"
	"github.com/jonwraymond/toolgateway/session"
)

// Error values for discovery operations.
var (
	ErrNoCatalog = errors.New("discovery: catalog is required")
	ErrStopped   = errors.New("discovery: stopped")
)

// IdentifierMode selects how providers are prefixed.
type IdentifierMode string

const (
	// IdentifierSlug prefixes with a slug of the display name.
	IdentifierSlug IdentifierMode = "slug"
	// IdentifierUUID prefixes with the provider ID when it is a UUID and
	// falls back to a slug otherwise.
	IdentifierUUID IdentifierMode = "uuid"
)

// Defaults.
const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultListTimeout    = 30 * time.Second
	DefaultRefreshTimeout = 2 * time.Minute
	DefaultConcurrency    = 8
	DefaultSchedule       = "@every 5m"
)

// Options configures a Discovery instance.
type Options struct {
	Catalog  provider.Catalog
	Sessions *session.Registry
	Registry *registry.Registry

	// IdentifierMode defaults to IdentifierSlug.
	IdentifierMode IdentifierMode
	// CacheTTL is how long a successful cycle stays fresh. Default: 5m.
	CacheTTL time.Duration
	// ListTimeout bounds listing one provider. Default: 30s.
	ListTimeout time.Duration
	// RefreshTimeout bounds a background cycle. Default: 2m.
	RefreshTimeout time.Duration
	// Concurrency caps providers listed in parallel. Default: 8.
	Concurrency int

	// OnRefresh is called after every successful cycle.
	OnRefresh func(Report)

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// ProviderState is what the last cycle learned about one provider.
type ProviderState struct {
	Provider    provider.Provider
	Identifier  string
	Kind        naming.Kind
	SessionKey  string
	Constraints constraint.Set
	Tools       int
	Resources   int
	Prompts     int
	// Err is set when the provider could not be listed this cycle. Its
	// capabilities are absent from the registry until a later cycle succeeds.
	Err error
}

// Report summarizes one cycle.
type Report struct {
	Version   uint64
	Providers int
	Failed    int
	Tools     int
	Resources int
	Prompts   int
	Elapsed   time.Duration
	// Changed reports whether the exposed capabilities differ from the
	// previous snapshot.
	Changed bool
}

// Discovery keeps the capability registry in sync with the provider catalog.
type Discovery struct {
	opts  Options
	log   zerolog.Logger
	group singleflight.Group

	mu          sync.RWMutex
	states      map[string]*ProviderState
	order       []string
	lastRefresh time.Time
	lastErr     error

	cron *cron.Cron
	bg   sync.WaitGroup
}

// New creates a Discovery instance with the given options.
func New(opts Options) (*Discovery, error) {
	if opts.Catalog == nil {
		return nil, ErrNoCatalog
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry(session.Options{Logger: opts.Logger})
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(registry.Options{Logger: opts.Logger})
	}
	if opts.IdentifierMode == "" {
		opts.IdentifierMode = IdentifierSlug
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = DefaultListTimeout
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Discovery{
		opts:   opts,
		log:    logging.Component(opts.Logger, "discovery"),
		states: make(map[string]*ProviderState),
	}, nil
}

// Registry returns the capability registry this instance maintains.
func (d *Discovery) Registry() *registry.Registry { return d.opts.Registry }

// Sessions returns the downstream session registry.
func (d *Discovery) Sessions() *session.Registry { return d.opts.Sessions }

// Refresh runs a discovery cycle now. Concurrent calls share one cycle.
func (d *Discovery) Refresh(ctx context.Context) (Report, error) {
	v, err, _ := d.group.Do("refresh", func() (any, error) {
		return d.refresh(ctx)
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

// Ensure refreshes when the cache is stale.
func (d *Discovery) Ensure(ctx context.Context) error {
	if d.Fresh() {
		return nil
	}
	_, err := d.Refresh(ctx)
	return err
}

// Fresh reports whether the last successful cycle is within the cache TTL.
func (d *Discovery) Fresh() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.lastRefresh.IsZero() && time.Since(d.lastRefresh) < d.opts.CacheTTL
}

// LastError returns the error of the most recent cycle, if it failed.
func (d *Discovery) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// RefreshAsync starts a cycle in the background on a detached context.
func (d *Discovery) RefreshAsync(ctx context.Context) {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		bgCtx, cancel := logging.DetachWithTimeout(ctx, d.opts.RefreshTimeout)
		defer cancel()
		if _, err := d.Refresh(bgCtx); err != nil {
			d.log.Warn().Err(err).Msg("background refresh failed")
		}
	}()
}

// Start schedules periodic refreshes. An empty spec uses DefaultSchedule.
func (d *Discovery) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.RefreshTimeout)
		defer cancel()
		if _, err := d.Refresh(ctx); err != nil {
			d.log.Warn().Err(err).Msg("scheduled refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("discovery schedule %q: %w", spec, err)
	}

	d.mu.Lock()
	if d.cron != nil {
		d.mu.Unlock()
		return errors.New("discovery: already started")
	}
	d.cron = c
	d.mu.Unlock()

	c.Start()
	return nil
}

// Stop halts the schedule and waits for background refreshes.
func (d *Discovery) Stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	d.bg.Wait()
}

// Provider returns the state of one provider from the last cycle.
func (d *Discovery) Provider(id string) (ProviderState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.states[id]
	if !ok {
		return ProviderState{}, false
	}
	return *s, true
}

// Providers returns every provider from the last cycle, ordered by ID.
func (d *Discovery) Providers() []ProviderState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ProviderState, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.states[id])
	}
	return out
}

func (d *Discovery) refresh(ctx context.Context) (Report, error) {
	start := time.Now()
	providers, err := d.opts.Catalog.ListProviders(ctx)
	if err != nil {
		err = fmt.Errorf("list providers: %w", err)
		d.fail(err)
		return Report{}, err
	}

	states := d.assign(providers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	lists := make([][]registry.Entry, len(states))
	for i, st := range states {
		g.Go(func() error {
			lists[i] = d.listProvider(gctx, st)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		d.fail(err)
		return Report{}, err
	}

	identifiers := make(map[string]string, len(states))
	keep := make(map[string]bool, len(states))
	var entries []registry.Entry
	report := Report{Providers: len(states)}
	for i, st := range states {
		identifiers[st.Identifier] = st.Provider.ID
		keep[st.SessionKey] = true
		entries = append(entries, lists[i]...)
		if st.Err != nil {
			report.Failed++
		}
		report.Tools += st.Tools
		report.Resources += st.Resources
		report.Prompts += st.Prompts
	}

	// Entries and provider states are published together: a caller that
	// resolves a new entry and then asks for its provider sees this cycle's
	// state.
	before := d.opts.Registry.Fingerprint()
	d.mu.Lock()
	version, err := d.opts.Registry.Rebuild(identifiers, entries)
	if err != nil {
		d.mu.Unlock()
		d.fail(err)
		return Report{}, err
	}
	d.states = make(map[string]*ProviderState, len(states))
	d.order = d.order[:0]
	for _, st := range states {
		d.states[st.Provider.ID] = st
		d.order = append(d.order, st.Provider.ID)
	}
	d.lastRefresh = time.Now()
	d.lastErr = nil
	d.mu.Unlock()

	report.Version = version
	report.Changed = d.opts.Registry.Fingerprint() != before

	if closed := d.opts.Sessions.Retain(keep); closed > 0 {
		d.log.Debug().Int("closed", closed).Msg("pruned provider sessions")
	}

	report.Elapsed = time.Since(start)
	d.opts.Metrics.Discovery(nil, report.Tools, report.Resources, report.Prompts)
	d.log.Info().
		Uint64("version", report.Version).
		Int("providers", report.Providers).
		Int("failed", report.Failed).
		Int("tools", report.Tools).
		Int("resources", report.Resources).
		Int("prompts", report.Prompts).
		Dur("elapsed", report.Elapsed).
		Bool("changed", report.Changed).
		Msg("discovery cycle complete")
	if d.opts.OnRefresh != nil {
		d.opts.OnRefresh(report)
	}
	return report, nil
}

func (d *Discovery) fail(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
	d.opts.Metrics.Discovery(err, 0, 0, 0)
	d.log.Error().Err(err).Msg("discovery cycle failed")
}

// assign validates providers and gives each a unique identifier. Providers
// are processed in ID order so slug suffixes are stable across cycles.
func (d *Discovery) assign(providers []provider.Provider) []*ProviderState {
	sorted := make([]provider.Provider, 0, len(providers))
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if !provider.ValidID(p.ID) {
			d.log.Warn().Str("provider", p.ID).Msg("skipping provider with invalid id")
			continue
		}
		if seen[p.ID] {
			d.log.Warn().Str("provider", p.ID).Msg("skipping duplicate provider")
			continue
		}
		seen[p.ID] = true
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	taken := make(map[string]bool, len(sorted))
	states := make([]*ProviderState, 0, len(sorted))
	for _, p := range sorted {
		st := &ProviderState{
			Provider:    p,
			SessionKey:  session.Key(p.ID, p.Params),
			Constraints: constraint.Parse(p.Instructions),
		}
		if d.opts.IdentifierMode == IdentifierUUID && naming.IsValidUUID(p.ID) {
			st.Identifier = p.ID
			st.Kind = naming.KindUUID
		} else {
			st.Identifier = naming.UniqueSlug(naming.Slugify(p.Name), taken)
			st.Kind = naming.KindSlug
		}
		taken[st.Identifier] = true
		states = append(states, st)
	}
	return states
}

func (d *Discovery) listProvider(ctx context.Context, st *ProviderState) []registry.Entry {
	p := st.Provider
	log := d.log.With().Str("provider", p.ID).Str("identifier", st.Identifier).Logger()

	ctx, cancel := context.WithTimeout(ctx, d.opts.ListTimeout)
	defer cancel()

	conn, err := d.opts.Sessions.GetOrCreate(ctx, st.SessionKey, p.ID, p.Params)
	if err != nil {
		st.Err = err
		log.Warn().Err(err).Msg("provider unavailable during discovery")
		return nil
	}

	caps := conn.Capabilities()
	var entries []registry.Entry
	if caps.Tools != nil {
		tools, err := conn.ListTools(ctx)
		if err != nil {
			st.Err = err
			d.opts.Sessions.Invalidate(st.SessionKey)
			log.Warn().Err(err).Msg("list tools failed")
			return nil
		}
		for _, t := range tools {
			entries = append(entries, registry.Entry{
				Kind:         registry.KindTool,
				Name:         naming.MakePrefixedName(st.Identifier, t.Name),
				OriginalName: t.Name,
				ProviderID:   p.ID,
				Identifier:   st.Identifier,
				Tool:         t,
			})
		}
		st.Tools = len(tools)
	}
	if caps.Resources != nil {
		resources, err := conn.ListResources(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("list resources failed")
		}
		for _, r := range resources {
			entries = append(entries, registry.Entry{
				Kind:         registry.KindResource,
				Name:         r.URI,
				OriginalName: r.URI,
				ProviderID:   p.ID,
				Identifier:   st.Identifier,
				Resource:     r,
			})
		}
		st.Resources = len(resources)
	}
	if caps.Prompts != nil {
		prompts, err := conn.ListPrompts(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("list prompts failed")
		}
		for _, pr := range prompts {
			entries = append(entries, registry.Entry{
				Kind:         registry.KindPrompt,
				Name:         naming.MakePrefixedName(st.Identifier, pr.Name),
				OriginalName: pr.Name,
				ProviderID:   p.ID,
				Identifier:   st.Identifier,
				Prompt:       pr,
			})
		}
		st.Prompts = len(prompts)
	}
	log.Debug().Int("tools", st.Tools).Int("resources", st.Resources).Int("prompts", st.Prompts).Msg("provider listed")
	return entries
}
