package services

import (
	"strings"

	"github.com/gov-dx-sandbox/access-broker/v1/models"
)

// DefaultRoleToken is appended to derived policy ids when no explicit roles
// are requested.
const DefaultRoleToken = "accessor"

// DerivePolicyID computes the deterministic policy id for a set of resource
// paths and optional role ids. Each path drops its leading segment separator,
// remaining separators become dots, and the transformed paths are joined with
// underscores; the role suffix is the separator-stripped role ids, or the
// default role token when none are given.
func DerivePolicyID(resourcePaths []string, roleIDs []string) string {
	parts := make([]string, 0, len(resourcePaths))
	for _, path := range resourcePaths {
		if idx := strings.Index(path, "/"); idx >= 0 {
			path = path[idx+1:]
		}
		parts = append(parts, strings.ReplaceAll(path, "/", "."))
	}

	suffix := DefaultRoleToken
	if len(roleIDs) > 0 {
		stripped := make([]string, 0, len(roleIDs))
		for _, role := range roleIDs {
			stripped = append(stripped, strings.ReplaceAll(role, "/", ""))
		}
		suffix = strings.Join(stripped, "_")
	}

	if len(parts) == 0 {
		return suffix
	}
	return strings.Join(parts, "_") + "_" + suffix
}

// IsPathPrefixOf reports whether prefix covers path, comparing whole path
// segments. Trailing separators are ignored on both sides.
func IsPathPrefixOf(prefix, path string) bool {
	prefixSegments := strings.Split(strings.TrimRight(prefix, "/"), "/")
	pathSegments := strings.Split(strings.TrimRight(path, "/"), "/")

	if len(prefixSegments) > len(pathSegments) {
		return false
	}
	for i, segment := range prefixSegments {
		if pathSegments[i] != segment {
			return false
		}
	}
	return true
}

// GetPolicyForID returns the expanded policy with the given id, or nil when
// the listing does not contain it
func GetPolicyForID(policies []models.ExpandedPolicy, policyID string) *models.ExpandedPolicy {
	for i := range policies {
		if policies[i].ID == policyID {
			return &policies[i]
		}
	}
	return nil
}

// GetResourcePathsForPolicy returns the resource paths of the policy with
// the given id. An unknown policy yields an empty list; callers treat that
// as requiring elevated visibility, not as an error.
func GetResourcePathsForPolicy(policies []models.ExpandedPolicy, policyID string) []string {
	if policy := GetPolicyForID(policies, policyID); policy != nil {
		return policy.ResourcePaths
	}
	return nil
}
