// Package action provides the small stateless helpers the DataStore
// uses to dispatch action requests and route callbacks (spec.md
// §4.6). There is no standalone action task: routing lives in the
// DataStore and the two loaders involved in a given exchange; this
// package only owns the process-wide monotonic id counter and the
// message-shaping helpers, kept separate from datastore for the same
// reason hashkey and value are split out — a single-purpose,
// independently testable unit.
package action

import (
	"sync/atomic"

	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/value"
)

// Counter is the single process-wide monotonically increasing action
// id allocator. It begins at 0; overflow is acknowledged as
// theoretical only (spec.md §4.6).
type Counter struct {
	next uint64
}

// Next allocates and returns the next id, starting at 0.
func (c *Counter) Next() uint64 {
	return atomic.AddUint64(&c.next, 1) - 1
}

// NewRequest builds the Action payload for a trigger_action dispatch.
// id must come from a Counter allocated at dispatch time, not at the
// originating API call (spec.md §4.6).
func NewRequest(id uint64, origin hashkey.PluginID, actionCode uint64, params []value.Value) messages.Action {
	return messages.Action{
		ActionCode: actionCode,
		Origin:     origin,
		ID:         id,
		Params:     params,
	}
}

// NewCallback builds the Action payload for an action_callback
// response. It reuses the original request's id; origin becomes the
// callback sender (the original target).
func NewCallback(original messages.Action, code uint64, from hashkey.PluginID, params []value.Value) messages.Action {
	return messages.Action{
		ActionCode: code,
		Origin:     from,
		ID:         original.ID,
		Params:     params,
	}
}
