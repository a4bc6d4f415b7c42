package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderID(t *testing.T) {
	assert.Equal(t, "", ProviderID("", "1.0.0"))
	assert.Equal(t, "agent", ProviderID("agent", ""))
	assert.Equal(t, "agent:1.0.0", ProviderID("agent", "1.0.0"))
}

func TestValidID(t *testing.T) {
	valid := []string{"github", "550e8400-e29b-41d4-a716-446655440000", "agent:1.0.0", "a.b_c"}
	for _, id := range valid {
		assert.True(t, ValidID(id), id)
	}
	invalid := []string{"", "-lead", "has space", "x/y", "a\nb", string(make([]byte, 200))}
	for _, id := range invalid {
		assert.False(t, ValidID(id), "%q", id)
	}
}

func TestConnectionParams_Validate(t *testing.T) {
	assert.NoError(t, ConnectionParams{Transport: TransportStdio, Command: "npx"}.Validate())
	assert.NoError(t, ConnectionParams{Transport: TransportSSE, URL: "http://x/sse"}.Validate())
	assert.ErrorIs(t, ConnectionParams{Transport: TransportStdio}.Validate(), ErrInvalidProvider)
	assert.ErrorIs(t, ConnectionParams{Transport: TransportHTTP}.Validate(), ErrInvalidProvider)
	assert.ErrorIs(t, ConnectionParams{Transport: "ws", URL: "ws://x"}.Validate(), ErrInvalidProvider)
}

func TestStore_RegisterDescribe(t *testing.T) {
	store := NewStore()

	id, err := store.Register(testProvider("", "Agent", "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "Agent:1.0.0", id)

	got, err := store.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "Agent", got.Name)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestStore_RegisterRejects(t *testing.T) {
	store := NewStore()

	_, err := store.Register(testProvider("", "", ""))
	assert.ErrorIs(t, err, ErrInvalidProvider)

	_, err = store.Register(testProvider("bad id", "Agent", ""))
	assert.ErrorIs(t, err, ErrInvalidProviderID)

	p := testProvider("ok", "Agent", "")
	p.Params = ConnectionParams{Transport: TransportHTTP}
	_, err = store.Register(p)
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestStore_ListAndRemove(t *testing.T) {
	store := NewStore()
	_, _ = store.Register(testProvider("beta", "Beta", ""))
	_, _ = store.Register(testProvider("alpha", "Alpha", ""))

	list, err := store.ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)

	store.Remove("alpha")
	store.Remove("missing")
	list, _ = store.ListProviders(context.Background())
	assert.Len(t, list, 1)

	_, err = store.Describe("alpha")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.Describe("")
	assert.ErrorIs(t, err, ErrInvalidProviderID)
}

func TestStaticCatalog(t *testing.T) {
	cat := StaticCatalog{testProvider("a", "A", "")}
	list, err := cat.ListProviders(context.Background())
	require.NoError(t, err)
	list[0].Name = "changed"
	assert.Equal(t, "A", cat[0].Name)
}

func testProvider(id, name, version string) Provider {
	return Provider{
		ID:          id,
		Name:        name,
		Description: "desc",
		Version:     version,
		Params:      ConnectionParams{Transport: TransportStdio, Command: "provider-bin"},
	}
}

type failingCatalog struct{}

func (failingCatalog) ListProviders(context.Context) ([]Provider, error) {
	return nil, errors.New("catalog offline")
}

func TestCatalogs(t *testing.T) {
	first := StaticCatalog{{ID: "a", Name: "First A"}, {ID: "b"}}
	second := StaticCatalog{{ID: "a", Name: "Second A"}, {ID: "c"}}

	ps, err := Catalogs{first, nil, second}.ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, "First A", ps[0].Name)
	assert.Equal(t, "c", ps[2].ID)

	_, err = Catalogs{first, failingCatalog{}}.ListProviders(context.Background())
	assert.Error(t, err)
}
