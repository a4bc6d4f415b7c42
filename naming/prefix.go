package naming

import (
	"html"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Separator joins a provider identifier and an original capability name.
const Separator = "__"

// Kind identifies the variant of a provider identifier.
type Kind string

const (
	KindUUID Kind = "uuid"
	KindSlug Kind = "slug"
)

// Parsed is the result of splitting a prefixed capability name.
type Parsed struct {
	OriginalName string
	Identifier   string
	Kind         Kind
}

// KnownSlugs reports whether a slug is currently assigned to a provider.
type KnownSlugs func(slug string) bool

// IsValidUUID reports whether s is a canonical 8-4-4-4-12 RFC 4122 UUID of
// version 1 through 5.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	if v := u.Version(); v < 1 || v > 5 {
		return false
	}
	return u.Variant() == uuid.RFC4122
}

// MakePrefixedName joins identifier and originalName. The caller must have
// validated identifier.
func MakePrefixedName(identifier, originalName string) string {
	return identifier + Separator + originalName
}

// ParsePrefixedName splits name at the first separator and classifies the
// left part. UUID identifiers are always recognized; slug identifiers are
// recognized only when known reports them as assigned (a nil known accepts
// no slugs). It returns false for names that were never prefixed.
func ParsePrefixedName(name string, known KnownSlugs) (Parsed, bool) {
	idx := strings.Index(name, Separator)
	if idx <= 0 {
		return Parsed{}, false
	}
	identifier, rest := name[:idx], name[idx+len(Separator):]
	if rest == "" {
		return Parsed{}, false
	}

	var p Parsed
	switch {
	case IsValidUUID(identifier):
		p = Parsed{Identifier: identifier, Kind: KindUUID, OriginalName: sanitizeLenient(rest)}
	case IsValidSlug(identifier) && known != nil && known(identifier):
		p = Parsed{Identifier: identifier, Kind: KindSlug, OriginalName: sanitizeStrict(rest)}
	default:
		return Parsed{}, false
	}
	if p.OriginalName == "" {
		return Parsed{}, false
	}
	return p, true
}

// sanitizeLenient strips markup and the characters < > ' " &.
func sanitizeLenient(s string) string {
	s = html.UnescapeString(namePolicy.Sanitize(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '\'', '"', '&':
			return -1
		}
		return r
	}, s)
}

// sanitizeStrict keeps letters, digits, space, '.', '-' and '_'.
func sanitizeStrict(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		switch r {
		case ' ', '.', '-', '_':
			return r
		}
		return -1
	}, s)
}
