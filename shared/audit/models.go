package audit

import (
	"context"
	"encoding/json"
)

// AuditLogRequest represents the request payload for creating an audit log
type AuditLogRequest struct {
	// Trace & Correlation
	TraceID *string `json:"traceId,omitempty"` // UUID string, nullable for standalone events

	// Temporal
	Timestamp string `json:"timestamp"` // ISO 8601 format, required

	// Event Classification
	EventType   *string `json:"eventType,omitempty"`   // ACCESS_EVENT, MANAGEMENT_EVENT (user-defined custom names)
	EventAction *string `json:"eventAction,omitempty"` // CREATE, READ, UPDATE, DELETE
	Status      string  `json:"status"`                // SUCCESS, FAILURE

	// Actor Information
	ActorType string `json:"actorType"` // SERVICE, ADMIN, MEMBER, SYSTEM
	ActorID   string `json:"actorId"`   // email, uuid, or service-name (required)

	// Target Information
	TargetType string  `json:"targetType"`         // SERVICE, RESOURCE
	TargetID   *string `json:"targetId,omitempty"` // resource_id or service_name

	// Metadata (payload without PII/sensitive data)
	RequestMetadata    json.RawMessage `json:"requestMetadata,omitempty"`
	ResponseMetadata   json.RawMessage `json:"responseMetadata,omitempty"`
	AdditionalMetadata json.RawMessage `json:"additionalMetadata,omitempty"`
}

// Audit log status constants
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Auditor is the primary interface for audit logging operations.
//
// Implementations should handle:
// - Asynchronous logging (fire-and-forget)
// - Graceful degradation when audit service is unavailable
// - Thread-safe operations
type Auditor interface {
	// LogEvent logs an audit event asynchronously.
	// If the audit service is disabled or unavailable, this method should
	// return immediately without error (graceful degradation).
	LogEvent(ctx context.Context, event *AuditLogRequest)

	// IsEnabled returns whether audit logging is currently enabled.
	IsEnabled() bool
}
