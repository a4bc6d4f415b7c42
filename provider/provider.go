package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Error values for consistent error handling by callers.
var (
	ErrNotFound          = errors.New("provider not found")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrInvalidProviderID = errors.New("invalid provider id")
)

// TransportKind selects how the gateway reaches a provider.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
	TransportSSE   TransportKind = "sse"
)

// ConnectionParams describe how to open a session to a provider. Any change
// to these values yields a different session key.
type ConnectionParams struct {
	Transport TransportKind     `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Validate checks that the params are usable for their transport.
func (p ConnectionParams) Validate() error {
	switch p.Transport {
	case TransportStdio:
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("%w: stdio transport requires a command", ErrInvalidProvider)
		}
	case TransportHTTP, TransportSSE:
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("%w: %s transport requires a url", ErrInvalidProvider, p.Transport)
		}
	default:
		return fmt.Errorf("%w: unsupported transport %q", ErrInvalidProvider, p.Transport)
	}
	return nil
}

// Provider is a downstream capability server known to the gateway.
type Provider struct {
	// ID is the provider's stable identifier. UUID-shaped ids can be used
	// directly as capability prefixes.
	ID          string
	Name        string
	Description string
	Version     string
	// Instructions is free text authored by an administrator. It is parsed
	// into a constraint set on every discovery cycle.
	Instructions string
	Params       ConnectionParams
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidID reports whether id is safe to use as a lookup key.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ProviderID returns a stable provider ID from name/version.
func ProviderID(name, version string) string {
	if name == "" {
		return ""
	}
	if version == "" {
		return name
	}
	return name + ":" + version
}

// Catalog lists the providers that should currently be aggregated.
type Catalog interface {
	ListProviders(ctx context.Context) ([]Provider, error)
}

// StaticCatalog is a fixed provider list, typically loaded from config.
type StaticCatalog []Provider

// ListProviders returns a copy of the list.
func (c StaticCatalog) ListProviders(context.Context) ([]Provider, error) {
	return slices.Clone(c), nil
}

// Catalogs merges several catalogs in order. The first catalog to list an
// ID wins; any failing catalog fails the whole listing.
type Catalogs []Catalog

// ListProviders concatenates the listings.
func (cs Catalogs) ListProviders(ctx context.Context) ([]Provider, error) {
	var out []Provider
	seen := make(map[string]bool)
	for _, c := range cs {
		if c == nil {
			continue
		}
		ps, err := c.ListProviders(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Store keeps providers in memory. It implements Catalog.
type Store struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewStore creates a new provider store.
func NewStore() *Store {
	return &Store{
		providers: make(map[string]Provider),
	}
}

// Register adds or replaces a provider and returns its resolved ID.
func (s *Store) Register(p Provider) (string, error) {
	if strings.TrimSpace(p.Name) == "" {
		return "", ErrInvalidProvider
	}
	if p.ID == "" {
		p.ID = ProviderID(p.Name, p.Version)
	}
	if !ValidID(p.ID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidProviderID, p.ID)
	}
	if err := p.Params.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.providers[p.ID] = p
	s.mu.Unlock()

	return p.ID, nil
}

// Describe returns a provider by ID.
func (s *Store) Describe(id string) (Provider, error) {
	if id == "" {
		return Provider{}, ErrInvalidProviderID
	}

	s.mu.RLock()
	p, ok := s.providers[id]
	s.mu.RUnlock()

	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Remove drops a provider. Removing an unknown id is not an error.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.providers, id)
	s.mu.Unlock()
}

// ListProviders returns all registered providers ordered by ID.
func (s *Store) ListProviders(context.Context) ([]Provider, error) {
	s.mu.RLock()
	result := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		result = append(result, p)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
