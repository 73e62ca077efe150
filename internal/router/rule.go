package router

import (
	"time"

	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

// Rule reroutes and optionally transforms messages before dispatch. Rules
// are evaluated in descending Priority order; the first enabled rule whose
// Condition holds wins, ties broken by insertion order.
type Rule struct {
	Name     string
	Priority int
	Enabled  bool

	// Condition decides whether the rule applies. A panicking condition is
	// treated as a non-match.
	Condition func(*model.Message) bool

	// Target is the channel the message is rerouted to.
	Target model.Channel

	// Transform, when set, replaces the message before dispatch.
	Transform func(*model.Message) *model.Message
}

// Matches reports whether the rule applies to msg.
func (r *Rule) Matches(msg *model.Message) (matched bool) {
	if !r.Enabled || r.Condition == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return r.Condition(msg)
}

// DeadLetterEntry parks a message whose retry budget ran out.
type DeadLetterEntry struct {
	Message  *model.Message
	Error    string
	FailedAt time.Time
	Attempts int
}

func (e *DeadLetterEntry) ToMap() map[string]any {
	return map[string]any{
		"message":     e.Message.ToMap(),
		"error":       e.Error,
		"failed_at":   e.FailedAt.UTC().Format(time.RFC3339Nano),
		"retry_count": e.Attempts,
	}
}
