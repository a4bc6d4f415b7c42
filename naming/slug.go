package naming

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxSlugLength is the maximum length of a slug.
	MaxSlugLength = 50

	// FallbackSlug is returned by Slugify when nothing usable remains.
	FallbackSlug = "server"

	maxSuffixAttempts = 100
	maxMemoEntries    = 1024
)

var (
	disallowedRe = regexp.MustCompile(`[^a-z0-9]+`)
	slugRe       = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// now is replaced in tests.
var now = time.Now

// Both policies drop every element and the bodies of script and style
// blocks. The slug policy leaves a space where a tag stood so adjacent
// words stay apart.
var (
	slugPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)
	namePolicy = bluemonday.StrictPolicy()
)

var slugMemo = mustCache(maxMemoEntries)

func mustCache(size int) *lru.Cache[string, string] {
	c, err := lru.New[string, string](size)
	if err != nil {
		panic(err)
	}
	return c
}

// Slugify derives a URL-safe slug from a provider display name.
//
// The result always matches ^[a-z0-9]+(-[a-z0-9]+)*$ and is at most
// MaxSlugLength bytes long, or equals FallbackSlug.
func Slugify(displayName string) string {
	if s, ok := slugMemo.Get(displayName); ok {
		return s
	}
	s := slugify(displayName)
	slugMemo.Add(displayName, s)
	return s
}

func slugify(displayName string) string {
	s := stripMarkup(displayName)
	s = stripDiacritics(s)
	s = strings.ToLower(s)
	s = disallowedRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLength {
		s = strings.TrimRight(s[:MaxSlugLength], "-")
	}
	if s == "" {
		return FallbackSlug
	}
	return s
}

// UniqueSlug returns base if it is not in existing; otherwise it appends
// -1, -2, ... and finally a time-derived suffix. The result is never a
// member of existing.
func UniqueSlug(base string, existing map[string]bool) string {
	if !existing[base] {
		return base
	}
	for i := 1; i <= maxSuffixAttempts; i++ {
		candidate := withSuffix(base, strconv.Itoa(i))
		if !existing[candidate] {
			return candidate
		}
	}
	stamp := now().UnixNano()
	for {
		candidate := withSuffix(base, strconv.FormatInt(stamp, 36))
		if !existing[candidate] {
			return candidate
		}
		stamp++
	}
}

func withSuffix(base, suffix string) string {
	limit := MaxSlugLength - len(suffix) - 1
	if limit < 1 {
		limit = 1
	}
	if len(base) > limit {
		base = strings.TrimRight(base[:limit], "-")
	}
	return base + "-" + suffix
}

// IsValidSlug reports whether s is a well-formed slug.
func IsValidSlug(s string) bool {
	return len(s) >= 1 && len(s) <= MaxSlugLength && slugRe.MatchString(s)
}

// stripMarkup returns the text content of s. The sanitizer escapes what it
// keeps, so entities are decoded back to plain characters.
func stripMarkup(s string) string {
	return html.UnescapeString(slugPolicy.Sanitize(s))
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
