package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FlexibleStringSlice unmarshals JWT claims that may arrive as either a
// single string or an array of strings, depending on the identity provider.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = FlexibleStringSlice{single}
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err == nil {
		*f = FlexibleStringSlice(multiple)
		return nil
	}

	return fmt.Errorf("value must be a string or an array of strings")
}

// UserClaims is the JWT claim set issued by the identity provider
type UserClaims struct {
	Issuer    string              `json:"iss,omitempty"`
	IdpUserID string              `json:"sub,omitempty"`
	Audience  FlexibleStringSlice `json:"aud,omitempty"`
	ExpiresAt int64               `json:"exp,omitempty"`
	IssuedAt  int64               `json:"iat,omitempty"`
	NotBefore int64               `json:"nbf,omitempty"`
	Email     string              `json:"email,omitempty"`
	Username  string              `json:"username,omitempty"`
	Roles     FlexibleStringSlice `json:"roles,omitempty"`
	ClientID  string              `json:"client_id,omitempty"`
}

func (c *UserClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c *UserClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.IssuedAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c *UserClaims) GetNotBefore() (*jwt.NumericDate, error) {
	if c.NotBefore == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.NotBefore, 0)), nil
}

func (c *UserClaims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c *UserClaims) GetSubject() (string, error) {
	return c.IdpUserID, nil
}

func (c *UserClaims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings(c.Audience), nil
}

// PreferredUsername returns the identity the broker tracks requests under:
// the explicit username claim when present, otherwise the IdP subject.
func (c *UserClaims) PreferredUsername() string {
	if c.Username != "" {
		return c.Username
	}
	return c.IdpUserID
}

// AuthContext carries the raw bearer token alongside the resolved user so
// downstream policy engine checks can forward it
type AuthContext struct {
	User  *AuthenticatedUser
	Token string
}

// AuthenticatedUser is the resolved identity attached to a request context
// after JWT validation
type AuthenticatedUser struct {
	IdpUserID   string
	Email       string
	Username    string
	Roles       []Role
	permissions []Permission
	ExpiresAt   time.Time

	cachedMemberID    string
	cachedMemberIDErr error
	memberIDCached    bool
}

// NewAuthenticatedUser builds an AuthenticatedUser from validated claims,
// keeping only roles known to the system. Users without any valid role are
// rejected.
func NewAuthenticatedUser(claims *UserClaims) (*AuthenticatedUser, error) {
	var roles []Role
	for _, raw := range claims.Roles {
		role := Role(strings.TrimSpace(raw))
		if role.IsValid() {
			roles = append(roles, role)
		}
	}

	if len(roles) == 0 {
		return nil, fmt.Errorf("access denied: no valid roles found in JWT claims for user %s", claims.IdpUserID)
	}

	var permissions []Permission
	seen := make(map[Permission]bool)
	for _, role := range roles {
		for _, p := range RolePermissions[role] {
			if !seen[p] {
				seen[p] = true
				permissions = append(permissions, p)
			}
		}
	}

	var expiresAt time.Time
	if claims.ExpiresAt != 0 {
		expiresAt = time.Unix(claims.ExpiresAt, 0)
	}

	return &AuthenticatedUser{
		IdpUserID:   claims.IdpUserID,
		Email:       claims.Email,
		Username:    claims.PreferredUsername(),
		Roles:       roles,
		permissions: permissions,
		ExpiresAt:   expiresAt,
	}, nil
}

// HasRole checks whether the user holds the given role
func (u *AuthenticatedUser) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks whether the user holds at least one of the given roles
func (u *AuthenticatedUser) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// HasPermission checks whether any of the user's roles grants the permission
func (u *AuthenticatedUser) HasPermission(permission Permission) bool {
	for _, p := range u.permissions {
		if p == permission {
			return true
		}
	}
	for _, role := range u.Roles {
		if role.HasPermission(permission) {
			return true
		}
	}
	return false
}

func (u *AuthenticatedUser) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

func (u *AuthenticatedUser) IsMember() bool {
	return u.HasRole(RoleMember)
}

func (u *AuthenticatedUser) IsSystem() bool {
	return u.HasRole(RoleSystem)
}

// GetPrimaryRole returns the most privileged role the user holds
func (u *AuthenticatedUser) GetPrimaryRole() Role {
	if u.IsAdmin() {
		return RoleAdmin
	}
	if u.IsSystem() {
		return RoleSystem
	}
	if u.IsMember() {
		return RoleMember
	}
	if len(u.Roles) > 0 {
		return u.Roles[0]
	}
	return ""
}

// GetPermissions returns the user's effective permissions
func (u *AuthenticatedUser) GetPermissions() []Permission {
	return u.permissions
}

// IsTokenExpired reports whether the token backing this identity has expired
func (u *AuthenticatedUser) IsTokenExpired() bool {
	if u.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(u.ExpiresAt)
}

// GetCachedMemberID returns the cached directory member ID for this user,
// and whether a lookup was performed during this request lifetime
func (u *AuthenticatedUser) GetCachedMemberID() (string, bool) {
	return u.cachedMemberID, u.memberIDCached
}

// SetCachedMemberID records the result of a member directory lookup so
// repeated authorization checks within a request avoid duplicate calls
func (u *AuthenticatedUser) SetCachedMemberID(id string, err error) {
	u.cachedMemberID = id
	u.cachedMemberIDErr = err
	u.memberIDCached = true
}

// GetCachedMemberIDError returns the error from the cached lookup, if any
func (u *AuthenticatedUser) GetCachedMemberIDError() error {
	return u.cachedMemberIDErr
}

// GetCachedMemberIDWithError returns the cached lookup result and error
func (u *AuthenticatedUser) GetCachedMemberIDWithError() (string, bool, error) {
	return u.cachedMemberID, u.memberIDCached, u.cachedMemberIDErr
}
