package server

import (
	"context"
	"encoding/json"

	"github.com/AltairaLabs/codegen-orchestrator/internal/events"
)

// NotificationSessionEvent is the MCP notification method carrying lifecycle events
const NotificationSessionEvent = "notifications/session_event"

// ForwardEvents pushes every event from ch to all connected MCP clients
// until ch is closed or ctx is done.
func (ms *MCPServer) ForwardEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			params, err := eventParams(e)
			if err != nil {
				ms.logger.Warn("dropping unencodable event", "event", string(e.Type), "session_id", e.SessionID, "error", err)
				continue
			}
			ms.server.SendNotificationToAllClients(NotificationSessionEvent, params)
		case <-ctx.Done():
			return
		}
	}
}

func eventParams(e events.Event) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}
