package channel

import (
	"context"
	"net/http"
	"time"

	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

// DefaultTimeout bounds a single adapter I/O call.
const DefaultTimeout = 15 * time.Second

// Adapter is the uniform contract every delivery backend implements. An
// adapter is stateless with respect to messages; all per-call data comes from
// the message and the adapter's own config.
type Adapter interface {
	// Type returns the channel this adapter speaks.
	Type() model.Channel

	// Enabled reports whether the adapter has the credentials it needs.
	// Disabled adapters still accept Send and fail with not_configured.
	Enabled() bool

	// Validate performs an optional preflight check against the backend.
	Validate(ctx context.Context) bool

	// Send delivers one message. Failures are reported in the result, not as
	// panics; the routing engine treats both paths as a failed attempt.
	Send(ctx context.Context, msg *model.Message) *model.SendResult
}

// NewHTTPClient returns the client adapters use for backend calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
