package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/bassosimone/errclass"
)

// Category is the failure taxonomy shared by every component.
type Category string

const (
	CategoryValidation       Category = "VALIDATION"
	CategoryNetwork          Category = "NETWORK"
	CategoryTimeout          Category = "TIMEOUT"
	CategoryAuthentication   Category = "AUTHENTICATION"
	CategoryAuthorization    Category = "AUTHORIZATION"
	CategoryRateLimit        Category = "RATE_LIMIT"
	CategoryResourceNotFound Category = "RESOURCE_NOT_FOUND"
	CategoryServerError      Category = "SERVER_ERROR"
	CategoryClientError      Category = "CLIENT_ERROR"
	CategoryUnknown          Category = "UNKNOWN"
)

// Sentinel errors.
var (
	ErrCircuitOpen       = errors.New("service temporarily unavailable")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Error is a classified failure. Message is safe to show to callers; Err
// holds the internal cause and is never exposed across the protocol
// boundary.
type Error struct {
	Category Category
	Message  string
	Err      error
}

// NewError returns a classified error.
func NewError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Err: cause}
}

// Errorf returns a classified error with a formatted public message.
func Errorf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return PublicMessage(e.Category)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors carrying a transport status code.
type StatusCoder interface {
	StatusCode() int
}

// StatusError is an HTTP-level failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// StatusCode implements StatusCoder.
func (e *StatusError) StatusCode() int { return e.Code }

// Classify maps err to a Category. Explicit classifications win, then
// status codes, then well-known network conditions, then message heuristics.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Category != "" {
		return ce.Category
	}
	if errors.Is(err, ErrCircuitOpen) {
		return CategoryServerError
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		return CategoryRateLimit
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if c, ok := categoryForStatus(sc.StatusCode()); ok {
			return c
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryUnknown
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CategoryTimeout
	}
	class := errclass.New(err)
	if class == errclass.ETIMEDOUT {
		return CategoryTimeout
	}
	if class != "" && class != errclass.EGENERIC {
		return CategoryNetwork
	}
	return classifyMessage(err.Error())
}

func categoryForStatus(code int) (Category, bool) {
	switch {
	case code == 400 || code == 422:
		return CategoryValidation, true
	case code == 401:
		return CategoryAuthentication, true
	case code == 403:
		return CategoryAuthorization, true
	case code == 404:
		return CategoryResourceNotFound, true
	case code == 408 || code == 504:
		return CategoryTimeout, true
	case code == 429:
		return CategoryRateLimit, true
	case code >= 400 && code < 500:
		return CategoryClientError, true
	case code >= 500 && code < 600:
		return CategoryServerError, true
	}
	return "", false
}

var messageRules = []struct {
	category Category
	needles  []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests"}},
	{CategoryAuthentication, []string{"unauthorized", "unauthenticated", "invalid token", "authentication"}},
	{CategoryAuthorization, []string{"forbidden", "permission denied", "access denied", "not allowed"}},
	{CategoryNetwork, []string{"connection refused", "connection reset", "econnrefused", "econnreset", "broken pipe", "no such host", "network", "unexpected eof", "connection closed", "dial "}},
	{CategoryResourceNotFound, []string{"not found", "no such"}},
	{CategoryServerError, []string{"internal server error", "bad gateway", "service unavailable", "server error"}},
	{CategoryValidation, []string{"invalid", "validation", "required", "malformed"}},
}

func classifyMessage(msg string) Category {
	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// Retryable reports whether failures of the given category may succeed on
// a later attempt. Client-side categories never do.
func Retryable(c Category) bool {
	switch c {
	case CategoryValidation, CategoryClientError, CategoryAuthentication,
		CategoryAuthorization, CategoryResourceNotFound, CategoryRateLimit:
		return false
	}
	return true
}

var publicMessages = map[Category]string{
	CategoryValidation:       "Invalid request parameters",
	CategoryNetwork:          "Unable to reach the provider",
	CategoryTimeout:          "The request timed out",
	CategoryAuthentication:   "Authentication failed",
	CategoryAuthorization:    "Access denied",
	CategoryRateLimit:        "Rate limit exceeded, try again later",
	CategoryResourceNotFound: "Resource not found",
	CategoryServerError:      "The provider is temporarily unavailable",
	CategoryClientError:      "The request was rejected",
	CategoryUnknown:          "The request failed",
}

// PublicMessage returns the fixed caller-facing message for a category.
func PublicMessage(c Category) string {
	if msg, ok := publicMessages[c]; ok {
		return msg
	}
	return publicMessages[CategoryUnknown]
}

var (
	urlRe        = regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://[^\s"'<>]+`)
	bearerRe     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/=-]+`)
	credentialRe = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token|secret|password|passwd|authorization)(["']?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,;&]+)`)
	frameRe      = regexp.MustCompile(`^\s*(goroutine \d+|at \S+|\S+\.(go|js|ts|py):\d+|panic:|created by )`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

const maxSanitizedLength = 500

// Sanitize removes URLs, stack frames and credential-bearing fragments from
// msg.
func Sanitize(msg string) string {
	lines := strings.Split(msg, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if frameRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, " ")
	out = bearerRe.ReplaceAllString(out, "Bearer [redacted]")
	out = credentialRe.ReplaceAllString(out, "${1}${2}[redacted]")
	out = urlRe.ReplaceAllString(out, "[url]")
	out = strings.TrimSpace(spaceRe.ReplaceAllString(out, " "))
	if len(out) > maxSanitizedLength {
		out = out[:maxSanitizedLength]
	}
	return out
}

// Public converts any error into a classified *Error whose message is safe
// to return to the caller. Explicit *Error messages are sanitized and kept;
// everything else gets the category's fixed message.
func Public(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		msg := ce.Message
		if msg == "" {
			msg = PublicMessage(ce.Category)
		}
		return &Error{Category: ce.Category, Message: Sanitize(msg), Err: err}
	}
	c := Classify(err)
	return &Error{Category: c, Message: PublicMessage(c), Err: err}
}
