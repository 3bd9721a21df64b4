package models

// AuthorizationMode defines how the system behaves when no explicit permission is defined for an endpoint
type AuthorizationMode string

const (
	// AuthorizationModeFailClosed - Deny all access to undefined endpoints (most secure)
	AuthorizationModeFailClosed AuthorizationMode = "fail_closed"

	// AuthorizationModeFailOpenAdminSystem - Allow admin and system users, deny others (current behavior)
	AuthorizationModeFailOpenAdminSystem AuthorizationMode = "fail_open_admin_system"

	// AuthorizationModeFailOpenAdmin - Allow only admin users, deny others
	AuthorizationModeFailOpenAdmin AuthorizationMode = "fail_open_admin"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "OpenDIF_Admin"  // Full access to all resources
	RoleMember Role = "OpenDIF_Member" // Access to own requests and public endpoints
	RoleSystem Role = "OpenDIF_System" // System-level access for internal services
)

// Permission represents specific permissions
type Permission string

const (
	// Access request permissions
	PermissionCreateRequest   Permission = "request:create"
	PermissionReadRequest     Permission = "request:read"
	PermissionUpdateRequest   Permission = "request:update"
	PermissionDeleteRequest   Permission = "request:delete"
	PermissionReadAllRequests Permission = "request:read:all"

	// Resource access checks
	PermissionCheckResources Permission = "request:check_resources"
)

// RolePermissions defines what permissions each role has
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		// Admin has all permissions
		PermissionCreateRequest, PermissionReadRequest, PermissionUpdateRequest,
		PermissionDeleteRequest, PermissionReadAllRequests, PermissionCheckResources,
	},
	RoleMember: {
		// Members can create and read their own requests
		PermissionCreateRequest, PermissionReadRequest, PermissionCheckResources,
	},
	RoleSystem: {
		// System role drives the review workflow on behalf of internal services
		PermissionCreateRequest, PermissionReadRequest, PermissionUpdateRequest,
		PermissionReadAllRequests, PermissionCheckResources,
	},
}

// EndpointPermission defines the required permission for each endpoint
type EndpointPermission struct {
	Method              string
	Path                string
	Permission          Permission
	IsOwnershipRequired bool // Whether the user must own the resource
}

// EndpointPermissions maps HTTP endpoints to required permissions
var EndpointPermissions = []EndpointPermission{
	// Request endpoints
	{"GET", "/api/v1/requests", PermissionReadAllRequests, false},
	{"POST", "/api/v1/requests", PermissionCreateRequest, false},
	{"GET", "/api/v1/requests/user", PermissionReadRequest, true},
	{"POST", "/api/v1/requests/user-resource-paths", PermissionCheckResources, true},
	{"GET", "/api/v1/requests/*", PermissionReadRequest, true},
	{"PUT", "/api/v1/requests/*", PermissionUpdateRequest, false},
	{"DELETE", "/api/v1/requests/*", PermissionDeleteRequest, false},
}

// HasPermission checks if a role has a specific permission
func (r Role) HasPermission(permission Permission) bool {
	permissions, exists := RolePermissions[r]
	if !exists {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	_, exists := RolePermissions[r]
	return exists
}
