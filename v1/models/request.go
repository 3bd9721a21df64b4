package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccessRequest is a tracked access request. A request targets exactly one
// policy; Revoke requests ask for access removal instead of a grant.
type AccessRequest struct {
	RequestID           string `json:"request_id" gorm:"primaryKey;size:64"`
	Username            string `json:"username" gorm:"size:255;not null;index:idx_requests_triple"`
	PolicyID            string `json:"policy_id" gorm:"size:1024;not null;index:idx_requests_triple"`
	Revoke              bool   `json:"revoke" gorm:"not null;default:false;index:idx_requests_triple"`
	Status              string `json:"status" gorm:"size:64;not null;index"`
	ResourceID          string `json:"resource_id,omitempty" gorm:"size:255"`
	ResourceDisplayName string `json:"resource_display_name,omitempty" gorm:"size:255"`
	BaseModel
}

func (AccessRequest) TableName() string {
	return "requests"
}

// NewRequestID generates a prefixed request identifier
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// CreateRequestInput is the payload for creating a request. Exactly one of
// PolicyID, ResourcePath, or ResourcePaths must be set.
type CreateRequestInput struct {
	Username            string   `json:"username,omitempty"`
	PolicyID            string   `json:"policy_id,omitempty"`
	ResourcePath        string   `json:"resource_path,omitempty"`
	ResourcePaths       []string `json:"resource_paths,omitempty"`
	RoleIDs             []string `json:"role_ids,omitempty"`
	ResourceID          string   `json:"resource_id,omitempty"`
	ResourceDisplayName string   `json:"resource_display_name,omitempty"`
	Status              string   `json:"status,omitempty"`
	Revoke              bool     `json:"-"`
}

// Validate checks the mutually exclusive policy/resource fields
func (in *CreateRequestInput) Validate() error {
	set := 0
	if in.PolicyID != "" {
		set++
	}
	if in.ResourcePath != "" {
		set++
	}
	if len(in.ResourcePaths) > 0 {
		set++
	}
	if set != 1 {
		return NewInvalidRequestError("exactly one of 'policy_id', 'resource_path' or 'resource_paths' must be provided")
	}
	if in.PolicyID != "" && len(in.RoleIDs) > 0 {
		return NewInvalidRequestError("'role_ids' cannot be combined with 'policy_id'")
	}
	if in.Revoke && in.PolicyID == "" {
		return NewInvalidRequestError("revoke requests must reference an existing policy via 'policy_id'")
	}
	for _, role := range in.RoleIDs {
		if strings.TrimSpace(role) == "" {
			return NewInvalidRequestError("'role_ids' must not contain empty entries")
		}
	}
	if in.Username != "" && len(in.Username) > MaxUsernameLength {
		return NewInvalidRequestError(fmt.Sprintf("'username' exceeds %d characters", MaxUsernameLength))
	}
	if len(in.PolicyID) > MaxPolicyIDLength {
		return NewInvalidRequestError(fmt.Sprintf("'policy_id' exceeds %d characters", MaxPolicyIDLength))
	}
	if len(in.Status) > MaxStatusLength {
		return NewInvalidRequestError(fmt.Sprintf("'status' exceeds %d characters", MaxStatusLength))
	}
	if len(in.ResourceDisplayName) > MaxDisplayNameLength {
		return NewInvalidRequestError(fmt.Sprintf("'resource_display_name' exceeds %d characters", MaxDisplayNameLength))
	}
	return nil
}

// UpdateRequestInput is the payload for a status update
type UpdateRequestInput struct {
	Status string `json:"status"`
}

func (in *UpdateRequestInput) Validate() error {
	if strings.TrimSpace(in.Status) == "" {
		return NewInvalidRequestError("'status' is required")
	}
	if len(in.Status) > MaxStatusLength {
		return NewInvalidRequestError(fmt.Sprintf("'status' exceeds %d characters", MaxStatusLength))
	}
	return nil
}

// AccessRequestResponse is the API representation of a request. RedirectURL
// is present only when a configured redirect action fired for the
// transition that produced this response.
type AccessRequestResponse struct {
	RequestID           string  `json:"request_id"`
	Username            string  `json:"username"`
	PolicyID            string  `json:"policy_id"`
	Revoke              bool    `json:"revoke"`
	Status              string  `json:"status"`
	ResourceID          string  `json:"resource_id,omitempty"`
	ResourceDisplayName string  `json:"resource_display_name,omitempty"`
	CreatedTime         string  `json:"created_time"`
	UpdatedTime         string  `json:"updated_time"`
	RedirectURL         *string `json:"redirect_url,omitempty"`
}

// ToResponse converts the stored entity to its API shape
func (r *AccessRequest) ToResponse() *AccessRequestResponse {
	return &AccessRequestResponse{
		RequestID:           r.RequestID,
		Username:            r.Username,
		PolicyID:            r.PolicyID,
		Revoke:              r.Revoke,
		Status:              r.Status,
		ResourceID:          r.ResourceID,
		ResourceDisplayName: r.ResourceDisplayName,
		CreatedTime:         r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedTime:         r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListRequestsFilter narrows ListRequests results. Each field is optional;
// multi-valued fields match any of their values, and all set fields must
// match (conjunctive).
type ListRequestsFilter struct {
	Username        []string
	PolicyID        []string
	Status          []string
	ExcludeStatuses []string
	Revoke          *bool
	ResourceID      []string
}
