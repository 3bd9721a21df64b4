package models

// Request statuses understood by the default workflow configuration.
// The full status sets (allowed, draft, update-access, final) are configurable;
// these constants are the defaults.
const (
	StatusDraft     = "DRAFT"
	StatusSubmitted = "SUBMITTED"
	StatusApproved  = "APPROVED"
	StatusSigned    = "SIGNED"
	StatusRejected  = "REJECTED"
)

// AuditStatus represents the status of audit events
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// ResourceType represents different resource types for auditing
type ResourceType string

const (
	ResourceTypeRequests ResourceType = "REQUESTS"
)

// ActorType classifies who performed an audited operation
type ActorType string

const (
	ActorTypeAdmin  ActorType = "ADMIN"
	ActorTypeMember ActorType = "MEMBER"
	ActorTypeSystem ActorType = "SYSTEM"
)

// Field length constraints
const (
	MaxUsernameLength    = 255
	MaxPolicyIDLength    = 1024
	MaxStatusLength      = 64
	MaxDisplayNameLength = 255
)
