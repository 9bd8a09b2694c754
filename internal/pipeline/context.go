// Package pipeline holds the read-only workflow snapshot a caller attaches to
// a session. The orchestrator stamps it into logs and events but never
// interprets or transitions it.
package pipeline

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Context is a point-in-time view of the caller's workflow state machine
type Context struct {
	WorkflowID      string         `json:"workflowId"`
	CurrentState    string         `json:"currentState"`
	PreviousState   string         `json:"previousState,omitempty"`
	StateEnteredAt  time.Time      `json:"stateEnteredAt"`
	ActiveAgentID   string         `json:"activeAgentId,omitempty"`
	ActiveAgentType string         `json:"activeAgentType,omitempty"`
	CurrentStoryID  string         `json:"currentStoryId,omitempty"`
	RetryCount      int            `json:"retryCount"`
	MaxRetries      int            `json:"maxRetries"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy so later caller mutations never reach events.
// Metadata values are copied through a JSON round trip; values that cannot be
// encoded are dropped.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			var copied any
			if err := json.Unmarshal(raw, &copied); err != nil {
				continue
			}
			out.Metadata[k] = copied
		}
	}
	return &out
}

// LogValue stamps the identifying fields, not the metadata bag
func (c *Context) LogValue() slog.Value {
	if c == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("workflow_id", c.WorkflowID),
		slog.String("current_state", c.CurrentState),
		slog.String("story_id", c.CurrentStoryID),
		slog.Int("retry_count", c.RetryCount),
		slog.Int("max_retries", c.MaxRetries),
	)
}
