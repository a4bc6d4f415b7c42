package registry

import (
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tag names derived from tool annotations.
const (
	TagReadOnly    = "read-only"
	TagDestructive = "destructive"
	TagIdempotent  = "idempotent"
	TagOpenWorld   = "open-world"
)

// toolTags collects search tags a provider attached to a tool: a "tags"
// list in _meta, security scheme names and annotation hints.
func toolTags(t *mcp.Tool) []string {
	if t == nil {
		return nil
	}
	tags := stringSliceFromAny(t.Meta["tags"])
	tags = append(tags, securitySchemes(t.Meta)...)
	if ann := t.Annotations; ann != nil {
		if ann.ReadOnlyHint {
			tags = append(tags, TagReadOnly)
		}
		if ann.DestructiveHint != nil && *ann.DestructiveHint {
			tags = append(tags, TagDestructive)
		}
		if ann.IdempotentHint {
			tags = append(tags, TagIdempotent)
		}
		if ann.OpenWorldHint != nil && *ann.OpenWorldHint {
			tags = append(tags, TagOpenWorld)
		}
	}
	return tags
}

func stringSliceFromAny(v any) []string {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// securitySchemes returns sorted scheme names from securityRequirements,
// falling back to securitySchemes.
func securitySchemes(meta mcp.Meta) []string {
	if meta == nil {
		return nil
	}
	names := schemeNamesFromRequirements(meta["securityRequirements"])
	if len(names) == 0 {
		names = keys(meta["securitySchemes"])
	}
	sort.Strings(names)
	return names
}

func schemeNamesFromRequirements(raw any) []string {
	var out []string
	switch reqs := raw.(type) {
	case []map[string][]string:
		for _, req := range reqs {
			for name := range req {
				out = append(out, name)
			}
		}
	case []map[string]any:
		for _, req := range reqs {
			for name := range req {
				out = append(out, name)
			}
		}
	case []any:
		for _, item := range reqs {
			out = append(out, keys(item)...)
		}
	}
	return out
}

func keys(raw any) []string {
	var out []string
	switch m := raw.(type) {
	case map[string]any:
		for name := range m {
			out = append(out, name)
		}
	case map[string][]string:
		for name := range m {
			out = append(out, name)
		}
	case map[string]map[string]any:
		for name := range m {
			out = append(out, name)
		}
	}
	return out
}
