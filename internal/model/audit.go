package model

import "time"

const (
	// ActorUnknown is recorded when a rejected request carried no
	// resolvable identity.
	ActorUnknown = "unknown"

	// ActorSystem marks events produced by background jobs rather than a
	// caller, such as the expired-key purge scheduler.
	ActorSystem = "system"
)

// AuditRecord is one append-only security event. Records are never mutated
// after creation.
type AuditRecord struct {
	ID           string            `json:"id"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Outcome      string            `json:"outcome"`
	Detail       map[string]string `json:"detail,omitempty"`
	Origin       string            `json:"origin,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
