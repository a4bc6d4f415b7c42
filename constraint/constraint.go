// Package constraint turns a provider's free-text operating instructions into
// a typed Set and checks capability names against it.
//
// Parsing is heuristic: it looks for phrases such as "read-only",
// "do not delete" or "100 requests per minute". Checking matches verb
// substrings in the original capability name, so a tool called
// "delete_nothing_safe_op" is blocked by a no-deletes rule.
package constraint

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// RateLimit is a per-provider request budget.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Set is the parsed view of a provider's instructions. It is derived once per
// discovery cycle and not mutated afterwards.
type Set struct {
	ReadOnly          bool
	NoWrites          bool
	NoDeletes         bool
	NoUpdates         bool
	RateLimit         *RateLimit
	AllowedOperations []string
	DeniedOperations  []string
}

// IsZero reports whether the set imposes no restriction.
func (s Set) IsZero() bool {
	return !s.ReadOnly && !s.NoWrites && !s.NoDeletes && !s.NoUpdates &&
		s.RateLimit == nil && len(s.AllowedOperations) == 0 && len(s.DeniedOperations) == 0
}

// Summary renders the set for the metadata side channel of forwarded calls.
func (s Set) Summary() map[string]any {
	out := map[string]any{
		"readOnly":  s.ReadOnly,
		"noWrites":  s.NoWrites,
		"noDeletes": s.NoDeletes,
		"noUpdates": s.NoUpdates,
	}
	if s.RateLimit != nil {
		out["rateLimit"] = map[string]any{
			"maxRequests": s.RateLimit.MaxRequests,
			"windowMs":    s.RateLimit.Window.Milliseconds(),
		}
	}
	if len(s.AllowedOperations) > 0 {
		out["allowedOperations"] = slices.Clone(s.AllowedOperations)
	}
	if len(s.DeniedOperations) > 0 {
		out["deniedOperations"] = slices.Clone(s.DeniedOperations)
	}
	return out
}

var (
	readOnlyRe  = regexp.MustCompile(`(?i)\bread[\s-]?only\b`)
	noWritesRe  = regexp.MustCompile(`(?i)\b(no|never|do not|don't|must not)\s+(writes?|writing|create|creating|insert)\b|\bwrites? (are|is) (not allowed|forbidden|disabled)\b`)
	noDeletesRe = regexp.MustCompile(`(?i)\b(no|never|do not|don't|must not)\s+(deletes?|deleting|deletions?|remove|removing)\b|\bdelet(es?|ions?) (are|is) (not allowed|forbidden|disabled)\b`)
	noUpdatesRe = regexp.MustCompile(`(?i)\b(no|never|do not|don't|must not)\s+(updates?|updating|modify|modifying|modifications?|edits?)\b|\bupdates? (are|is) (not allowed|forbidden|disabled)\b`)
	rateRe      = regexp.MustCompile(`(?i)\b(\d+)\s*(?:requests?|calls?|req)\s*(?:per|/|every|an?)\s*(second|sec|s|minute|min|m|hour|hr|h)\b`)
	allowedRe   = regexp.MustCompile(`(?i)\b(?:only allow|allow only|allowed operations|allowed tools?|only use)\s*:?\s*([^.\n]+)`)
	deniedRe    = regexp.MustCompile(`(?i)\b(?:denied operations|blocked operations|blocked tools?|forbidden operations|never use|do not use|don't use)\s*:?\s*([^.\n]+)`)
	itemSplitRe = regexp.MustCompile(`[\s,;]+`)
	itemRe      = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]*$`)
)

var stopwords = map[string]bool{
	"and": true, "or": true, "the": true, "a": true, "an": true, "tools": true,
	"tool": true, "operations": true, "operation": true, "only": true, "to": true,
}

// Parse derives a Set from instruction text.
func Parse(text string) Set {
	var s Set
	if strings.TrimSpace(text) == "" {
		return s
	}
	s.ReadOnly = readOnlyRe.MatchString(text)
	s.NoWrites = s.ReadOnly || noWritesRe.MatchString(text)
	s.NoDeletes = s.ReadOnly || noDeletesRe.MatchString(text)
	s.NoUpdates = s.ReadOnly || noUpdatesRe.MatchString(text)

	if m := rateRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			s.RateLimit = &RateLimit{MaxRequests: n, Window: windowFor(m[2])}
		}
	}
	s.AllowedOperations = listItems(allowedRe, text)
	s.DeniedOperations = listItems(deniedRe, text)
	return s
}

func windowFor(unit string) time.Duration {
	switch strings.ToLower(unit) {
	case "second", "sec", "s":
		return time.Second
	case "hour", "hr", "h":
		return time.Hour
	default:
		return time.Minute
	}
}

func listItems(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		for _, item := range itemSplitRe.Split(strings.ToLower(m[1]), -1) {
			item = strings.Trim(item, `"'`+"`()")
			if item == "" || stopwords[item] || !itemRe.MatchString(item) {
				continue
			}
			if !slices.Contains(out, item) {
				out = append(out, item)
			}
		}
	}
	return out
}

var (
	deleteVerbs = []string{"delete", "remove", "drop", "destroy", "purge", "erase", "truncate"}
	updateVerbs = []string{"update", "modify", "edit", "patch", "rename"}
	writeVerbs  = []string{"create", "write", "insert", "upload", "append", "publish", "send", "save"}
)

// Violation is returned by Check when an operation is not permitted.
type Violation struct {
	Operation string
	Reason    string
}

func (v *Violation) Error() string { return v.Reason }

// Check reports whether operation (an original, unprefixed capability name)
// is permitted by s. The allow list is consulted first, then the deny list,
// then the verb rules.
func Check(s Set, operation string) error {
	name := strings.ToLower(operation)
	if len(s.AllowedOperations) > 0 && !matchesAny(name, s.AllowedOperations) {
		return violation(operation, "operation %q is not in the provider's allowed operations", operation)
	}
	if matchesAny(name, s.DeniedOperations) {
		return violation(operation, "operation %q is denied by the provider's instructions", operation)
	}
	if (s.NoDeletes || s.ReadOnly) && matchesAny(name, deleteVerbs) {
		if s.ReadOnly {
			return violation(operation, "operation %q is not permitted: provider is read-only", operation)
		}
		return violation(operation, "operation %q is not permitted: delete operations are disabled", operation)
	}
	if (s.NoUpdates || s.ReadOnly) && matchesAny(name, updateVerbs) {
		if s.ReadOnly {
			return violation(operation, "operation %q is not permitted: provider is read-only", operation)
		}
		return violation(operation, "operation %q is not permitted: update operations are disabled", operation)
	}
	if (s.NoWrites || s.ReadOnly) && matchesAny(name, writeVerbs) {
		if s.ReadOnly {
			return violation(operation, "operation %q is not permitted: provider is read-only", operation)
		}
		return violation(operation, "operation %q is not permitted: write operations are disabled", operation)
	}
	return nil
}

func violation(op, format string, args ...any) error {
	return &Violation{Operation: op, Reason: fmt.Sprintf(format, args...)}
}

func matchesAny(name string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(name, n) {
			return true
		}
	}
	return false
}
