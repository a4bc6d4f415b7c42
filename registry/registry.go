package registry

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/rs/zerolog"
)

// Options configures a Registry.
type Options struct {
	Logger zerolog.Logger
	// DisableSearch skips building the bleve index on Rebuild.
	DisableSearch bool
}

// Registry is the capability table shared by discovery and dispatch.
type Registry struct {
	opts Options
	log  zerolog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	version uint64
	byName  map[CapabilityKind]map[string]*Entry
	ordered map[CapabilityKind][]*Entry
	// byProvider lists entries per provider for the secondary scan.
	byProvider map[string][]*Entry
	// identifiers maps a provider identifier (slug or UUID) to its ID.
	identifiers map[string]string
	fingerprint string
	index       bleve.Index
}

func emptySnapshot(version uint64) *snapshot {
	s := &snapshot{
		version:     version,
		byName:      make(map[CapabilityKind]map[string]*Entry),
		ordered:     make(map[CapabilityKind][]*Entry),
		byProvider:  make(map[string][]*Entry),
		identifiers: make(map[string]string),
	}
	s.fingerprint = fingerprint(s)
	return s
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	return &Registry{
		opts: opts,
		log:  opts.Logger,
		snap: emptySnapshot(0),
	}
}

// Rebuild replaces the whole table. identifiers maps each provider
// identifier assigned this cycle to its provider ID. Invalid entries and
// duplicate names are skipped and logged; the first entry for a name wins.
// It returns the new snapshot version.
func (r *Registry) Rebuild(identifiers map[string]string, entries []Entry) (uint64, error) {
	r.mu.RLock()
	version := r.snap.version + 1
	r.mu.RUnlock()

	next := emptySnapshot(version)
	for ident, providerID := range identifiers {
		next.identifiers[ident] = providerID
	}

	for i := range entries {
		e := entries[i]
		if err := e.Validate(); err != nil {
			r.log.Warn().Err(err).Str("provider", e.ProviderID).Msg("skipping registry entry")
			continue
		}
		names := next.byName[e.Kind]
		if names == nil {
			names = make(map[string]*Entry)
			next.byName[e.Kind] = names
		}
		if prev, dup := names[e.Name]; dup {
			r.log.Warn().
				Str("capability", e.Name).
				Str("provider", e.ProviderID).
				Str("kept_provider", prev.ProviderID).
				Msg("duplicate capability name")
			continue
		}
		entry := &e
		names[e.Name] = entry
		next.ordered[e.Kind] = append(next.ordered[e.Kind], entry)
		next.byProvider[e.ProviderID] = append(next.byProvider[e.ProviderID], entry)
	}

	next.fingerprint = fingerprint(next)

	if !r.opts.DisableSearch {
		idx, err := buildIndex(next)
		if err != nil {
			r.log.Error().Err(err).Msg("search index build failed")
		}
		next.index = idx
	}

	r.mu.Lock()
	if next.version <= r.snap.version {
		next.version = r.snap.version + 1
	}
	prev := r.snap
	r.snap = next
	r.mu.Unlock()

	if prev.index != nil {
		if err := prev.index.Close(); err != nil {
			r.log.Debug().Err(err).Msg("close previous search index")
		}
	}

	r.log.Debug().
		Uint64("version", next.version).
		Int("tools", len(next.ordered[KindTool])).
		Int("resources", len(next.ordered[KindResource])).
		Int("prompts", len(next.ordered[KindPrompt])).
		Msg("registry rebuilt")
	return next.version, nil
}

// Lookup resolves an exposed name directly.
func (r *Registry) Lookup(kind CapabilityKind, name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.snap.byName[kind][name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Find resolves an original name within the provider known by identifier.
// identifier may also be a provider ID.
func (r *Registry) Find(kind CapabilityKind, originalName, identifier string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providerID, ok := r.snap.identifiers[identifier]
	if !ok {
		providerID = identifier
	}
	for _, e := range r.snap.byProvider[providerID] {
		if e.Kind == kind && e.OriginalName == originalName {
			return *e, true
		}
	}
	return Entry{}, false
}

// KnownIdentifier reports whether ident was assigned to a provider in the
// current snapshot.
func (r *Registry) KnownIdentifier(ident string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.snap.identifiers[ident]
	return ok
}

// ProviderFor returns the provider ID behind an identifier.
func (r *Registry) ProviderFor(ident string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.snap.identifiers[ident]
	return id, ok
}

// List returns the entries of one kind in rebuild order.
func (r *Registry) List(kind CapabilityKind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.snap.ordered[kind]
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = *e
	}
	return out
}

// ProviderEntries returns every entry served by providerID.
func (r *Registry) ProviderEntries(providerID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.snap.byProvider[providerID]
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = *e
	}
	return out
}

// Version returns the current snapshot version. It is zero before the
// first Rebuild.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.version
}

// Stats summarizes a registry snapshot.
type Stats struct {
	Tools     int
	Resources int
	Prompts   int
	Providers int
	Version   uint64
	// Fingerprint is the snapshot content hash.
	Fingerprint string
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Tools:     len(r.snap.ordered[KindTool]),
		Resources: len(r.snap.ordered[KindResource]),
		Prompts:   len(r.snap.ordered[KindPrompt]),
		Providers: len(r.snap.byProvider),
		Version:   r.snap.version,

		Fingerprint: r.snap.fingerprint,
	}
}

// Close releases the search index.
func (r *Registry) Close() error {
	r.mu.Lock()
	idx := r.snap.index
	r.snap = emptySnapshot(r.snap.version)
	r.mu.Unlock()
	if idx != nil {
		if err := idx.Close(); err != nil {
			return fmt.Errorf("close search index: %w", err)
		}
	}
	return nil
}
