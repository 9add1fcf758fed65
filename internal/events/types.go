// Package events implements the orchestrator's pub/sub event bus.
package events

import "time"

// Type is the event taxonomy from the external interfaces surface.
type Type string

const (
	TypeAgentStarted        Type = "agent:started"
	TypeAgentMessage        Type = "agent:message"
	TypeAgentCompleted      Type = "agent:completed"
	TypeAgentError          Type = "agent:error"
	TypeTaskCreated         Type = "task:created"
	TypeTaskAssigned        Type = "task:assigned"
	TypeTaskStatusChanged   Type = "task:status_changed"
	TypeReviewStarted       Type = "review:started"
	TypeReviewApproved      Type = "review:approved"
	TypeReviewRejected      Type = "review:rejected"
	TypeProjectStarted      Type = "project:started"
	TypeProjectCompleted    Type = "project:completed"
)

// Wildcard names the all-events subscription. The Bus does not route by
// it: Subscribe(Wildcard, n) receives only events whose Type is "*", and
// Bus.SubscribeAll is the subscription that receives every published event.
const Wildcard = "*"

// Event is the payload carried on the bus. Every event has a type, the
// agent that produced it (may be empty for scheduler/system events), a
// role label, a timestamp, a short summary, and optional longer detail
// plus a free-form data map.
type Event struct {
	Type      Type              `json:"type"`
	AgentID   string            `json:"agentId,omitempty"`
	AgentRole string            `json:"agentRole,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Summary   string            `json:"summary"`
	Detail    string            `json:"detail,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}
