package models

// Policy is an access policy in the policy backend: a named binding of
// resource paths to roles.
type Policy struct {
	ID            string   `json:"id"`
	Description   string   `json:"description,omitempty"`
	ResourcePaths []string `json:"resource_paths"`
	RoleIDs       []string `json:"role_ids"`
}

// ExpandedPolicy is a policy with roles expanded inline, as returned by
// the policy backend's expand listing.
type ExpandedPolicy struct {
	ID            string       `json:"id"`
	Description   string       `json:"description,omitempty"`
	ResourcePaths []string     `json:"resource_paths"`
	Roles         []PolicyRole `json:"roles"`
}

// PolicyRole is a named set of permissions
type PolicyRole struct {
	ID          string             `json:"id"`
	Description string             `json:"description,omitempty"`
	Permissions []PolicyPermission `json:"permissions"`
}

// PolicyPermission grants an action on a service
type PolicyPermission struct {
	ID     string       `json:"id"`
	Action PolicyAction `json:"action"`
}

// PolicyAction identifies a service method
type PolicyAction struct {
	Service string `json:"service"`
	Method  string `json:"method"`
}

// PolicyList wraps the expand policy listing response
type PolicyList struct {
	Policies []ExpandedPolicy `json:"policies"`
}

// RoleList wraps the role listing response
type RoleList struct {
	Roles []PolicyRole `json:"roles"`
}

// AuthRequest is the authorization-check request sent to the policy backend
type AuthRequest struct {
	User     AuthRequestUser      `json:"user"`
	Requests []AuthRequestContext `json:"requests"`
}

type AuthRequestUser struct {
	Token string `json:"token"`
}

type AuthRequestContext struct {
	Resource string            `json:"resource"`
	Action   AuthRequestAction `json:"action"`
}

type AuthRequestAction struct {
	Service string `json:"service"`
	Method  string `json:"method"`
}

// AuthResponse is the authorization-check decision
type AuthResponse struct {
	Auth bool `json:"auth"`
}
