package registry

import (
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// DefaultSearchLimit caps Search when limit is not positive.
const DefaultSearchLimit = 20

// searchDoc is the indexed form of an Entry.
type searchDoc struct {
	Name        string   `json:"name"`
	Terms       string   `json:"terms"`
	Description string   `json:"description"`
	Namespace   string   `json:"namespace"`
	Kind        string   `json:"kind"`
	Tags        []string `json:"tags"`
}

var wordSplit = regexp.MustCompile(`[^A-Za-z0-9]+`)

// terms splits identifiers like "create_issue" or "db-server__run" into
// separate words so the standard analyzer can match them.
func terms(parts ...string) string {
	var words []string
	for _, p := range parts {
		for _, w := range wordSplit.Split(p, -1) {
			if w != "" {
				words = append(words, strings.ToLower(w))
			}
		}
	}
	return strings.Join(words, " ")
}

func docKey(kind CapabilityKind, name string) string {
	return string(kind) + "\x00" + name
}

func buildIndex(s *snapshot) (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	batch := idx.NewBatch()
	for kind, entries := range s.ordered {
		for _, e := range entries {
			mt := e.ModelTool()
			doc := searchDoc{
				Name:        e.Name,
				Terms:       terms(e.Name, e.OriginalName),
				Description: mt.Description,
				Namespace:   mt.Namespace,
				Kind:        string(kind),
				Tags:        mt.Tags,
			}
			if err := batch.Index(docKey(kind, e.Name), doc); err != nil {
				_ = idx.Close()
				return nil, err
			}
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// Search ranks capabilities against a free-text query. An empty query
// returns capabilities in index order.
func (r *Registry) Search(q string, limit int) (Results, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.snap.index == nil {
		if r.snap.version == 0 || r.opts.DisableSearch {
			return nil, nil
		}
		return nil, ErrIndexUnavailable
	}

	var bq query.Query
	if strings.TrimSpace(q) == "" {
		bq = bleve.NewMatchAllQuery()
	} else {
		match := bleve.NewMatchQuery(q)
		split := bleve.NewMatchQuery(terms(q))
		split.SetField("terms")
		split.SetBoost(2)
		fuzzy := bleve.NewMatchQuery(q)
		fuzzy.SetFuzziness(1)
		bq = query.NewDisjunctionQuery([]query.Query{match, split, fuzzy})
	}

	req := bleve.NewSearchRequestOptions(bq, limit, 0, false)
	res, err := r.snap.index.Search(req)
	if err != nil {
		return nil, err
	}

	out := make(Results, 0, len(res.Hits))
	for _, hit := range res.Hits {
		kind, name, ok := strings.Cut(hit.ID, "\x00")
		if !ok {
			continue
		}
		e, ok := r.snap.byName[CapabilityKind(kind)][name]
		if !ok {
			continue
		}
		out = append(out, Result{Entry: *e, Score: hit.Score})
	}
	return out, nil
}
