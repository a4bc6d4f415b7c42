package dispatch

import (
	"context"
	"time"

	"github.com/jonwraymond/toolgateway/resilience"
)

// Activity is one completed request, reported to an ActivityLogger.
type Activity struct {
	Operation  Operation
	Capability string
	ProviderID string
	Success    bool
	// Category is empty on success.
	Category resilience.Category
	Elapsed  time.Duration
	At       time.Time
}

// ActivityLogger receives activity records. Calls happen off the request
// path; errors and panics are logged and otherwise ignored.
type ActivityLogger interface {
	LogActivity(ctx context.Context, a Activity) error
}

// ActivityLoggerFunc adapts a function to ActivityLogger.
type ActivityLoggerFunc func(ctx context.Context, a Activity) error

// LogActivity calls f.
func (f ActivityLoggerFunc) LogActivity(ctx context.Context, a Activity) error {
	return f(ctx, a)
}
