package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"slices"
)

// fingerprint hashes the client-visible content of a snapshot. It changes
// when a capability is added, removed, renamed or redefined, and ignores
// provider listing order.
func fingerprint(s *snapshot) string {
	h := sha256.New()
	for _, kind := range []CapabilityKind{KindTool, KindResource, KindPrompt} {
		names := make([]string, 0, len(s.byName[kind]))
		for name := range s.byName[kind] {
			names = append(names, name)
		}
		slices.Sort(names)

		writeField(h, string(kind))
		for _, name := range names {
			e := s.byName[kind][name]
			writeField(h, e.Name)
			writeField(h, e.ProviderID)
			writeField(h, e.Description())
			writeField(h, definition(e))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

// definition is the JSON form of the underlying MCP definition. Schema and
// annotation changes surface here.
func definition(e *Entry) string {
	var v any
	switch {
	case e.Tool != nil:
		v = e.Tool
	case e.Resource != nil:
		v = e.Resource
	case e.Prompt != nil:
		v = e.Prompt
	default:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Fingerprint returns a content hash of the current snapshot. Two snapshots
// exposing the same capabilities share a fingerprint regardless of version.
func (r *Registry) Fingerprint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.fingerprint
}
