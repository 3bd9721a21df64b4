package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gov-dx-sandbox/access-broker/shared/utils"
)

// Default status sets. Deployments override them via environment variables
// or the JSON workflow config file.
const (
	DefaultAllowedStatuses      = "DRAFT,SUBMITTED,APPROVED,SIGNED,REJECTED"
	DefaultDraftStatuses        = "DRAFT"
	DefaultUpdateAccessStatuses = "APPROVED"
	DefaultFinalStatuses        = "SIGNED,REJECTED"
	DefaultInitialStatus        = "SUBMITTED"
)

// Credentials configures an OAuth2 client-credentials token source used to
// authenticate outbound action calls.
type Credentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// FormField maps a request data field to an outbound form parameter
type FormField struct {
	Name  string `json:"name"`
	Param string `json:"param"`
}

// ExternalCallConfig describes one outbound HTTP call fired on a status
// transition.
type ExternalCallConfig struct {
	Method        string      `json:"method"`
	URL           string      `json:"url"`
	Form          []FormField `json:"form,omitempty"`
	CredentialsID string      `json:"creds,omitempty"`
}

// RedirectConfig describes a client-side redirect fired on a status
// transition. Params lists the request data fields appended to the URL as
// query parameters.
type RedirectConfig struct {
	RedirectURL string   `json:"redirect_url"`
	Params      []string `json:"params,omitempty"`
}

// StatusActions names the actions bound to one status under one resource
// prefix rule.
type StatusActions struct {
	ExternalCalls []string `json:"external_call_configs,omitempty"`
	Redirects     []string `json:"redirect_configs,omitempty"`
}

// ActionConfig is the full post-transition action configuration. OnUpdate is
// keyed by resource path prefix, then by the status reached.
type ActionConfig struct {
	OnUpdate      map[string]map[string]StatusActions `json:"on_update,omitempty"`
	Redirects     map[string]RedirectConfig           `json:"redirect_configs,omitempty"`
	ExternalCalls map[string]ExternalCallConfig       `json:"external_call_configs,omitempty"`
	Credentials   map[string]Credentials              `json:"credentials,omitempty"`
}

// WorkflowConfig is the status-transition workflow configuration, loaded once
// at startup and injected into the request service.
type WorkflowConfig struct {
	AllowedStatuses      []string     `json:"allowed_statuses"`
	DraftStatuses        []string     `json:"draft_statuses"`
	UpdateAccessStatuses []string     `json:"update_access_statuses"`
	FinalStatuses        []string     `json:"final_statuses"`
	DefaultInitial       string       `json:"default_initial_status"`
	Actions              ActionConfig `json:"actions"`
}

// Load builds the workflow configuration from environment variables, then
// overlays the optional JSON file named by WORKFLOW_CONFIG_PATH (the file
// wins where both define a value).
func Load() (*WorkflowConfig, error) {
	cfg := &WorkflowConfig{
		AllowedStatuses:      splitList(utils.GetEnvOrDefault("ALLOWED_STATUSES", DefaultAllowedStatuses)),
		DraftStatuses:        splitList(utils.GetEnvOrDefault("DRAFT_STATUSES", DefaultDraftStatuses)),
		UpdateAccessStatuses: splitList(utils.GetEnvOrDefault("UPDATE_ACCESS_STATUSES", DefaultUpdateAccessStatuses)),
		FinalStatuses:        splitList(utils.GetEnvOrDefault("FINAL_STATUSES", DefaultFinalStatuses)),
		DefaultInitial:       utils.GetEnvOrDefault("DEFAULT_INITIAL_STATUS", DefaultInitialStatus),
	}

	if path := os.Getenv("WORKFLOW_CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow config %s: %w", path, err)
		}
		var fileCfg WorkflowConfig
		if err := json.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse workflow config %s: %w", path, err)
		}
		cfg.merge(&fileCfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *WorkflowConfig) merge(other *WorkflowConfig) {
	if len(other.AllowedStatuses) > 0 {
		c.AllowedStatuses = other.AllowedStatuses
	}
	if len(other.DraftStatuses) > 0 {
		c.DraftStatuses = other.DraftStatuses
	}
	if len(other.UpdateAccessStatuses) > 0 {
		c.UpdateAccessStatuses = other.UpdateAccessStatuses
	}
	if len(other.FinalStatuses) > 0 {
		c.FinalStatuses = other.FinalStatuses
	}
	if other.DefaultInitial != "" {
		c.DefaultInitial = other.DefaultInitial
	}
	c.Actions = other.Actions
}

// Validate checks the internal consistency of the status sets and that every
// action reference resolves.
func (c *WorkflowConfig) Validate() error {
	if len(c.AllowedStatuses) == 0 {
		return fmt.Errorf("workflow config: allowed_statuses must not be empty")
	}
	for _, set := range []struct {
		name     string
		statuses []string
	}{
		{"draft_statuses", c.DraftStatuses},
		{"update_access_statuses", c.UpdateAccessStatuses},
		{"final_statuses", c.FinalStatuses},
	} {
		for _, s := range set.statuses {
			if !contains(c.AllowedStatuses, s) {
				return fmt.Errorf("workflow config: %s entry %q is not an allowed status", set.name, s)
			}
		}
	}
	if !contains(c.AllowedStatuses, c.DefaultInitial) {
		return fmt.Errorf("workflow config: default initial status %q is not an allowed status", c.DefaultInitial)
	}
	if contains(c.FinalStatuses, c.DefaultInitial) {
		return fmt.Errorf("workflow config: default initial status %q must not be final", c.DefaultInitial)
	}

	for prefix, byStatus := range c.Actions.OnUpdate {
		for status, actions := range byStatus {
			if !contains(c.AllowedStatuses, status) {
				return fmt.Errorf("workflow config: on_update[%s] references unknown status %q", prefix, status)
			}
			for _, id := range actions.ExternalCalls {
				call, ok := c.Actions.ExternalCalls[id]
				if !ok {
					return fmt.Errorf("workflow config: on_update[%s][%s] references unknown external call %q", prefix, status, id)
				}
				if call.CredentialsID != "" {
					if _, ok := c.Actions.Credentials[call.CredentialsID]; !ok {
						return fmt.Errorf("workflow config: external call %q references unknown credentials %q", id, call.CredentialsID)
					}
				}
			}
			// At most one redirect per rule, so the redirect a
			// transition resolves to is unambiguous
			if len(actions.Redirects) > 1 {
				return fmt.Errorf("workflow config: on_update[%s][%s] lists %d redirects, at most one is allowed", prefix, status, len(actions.Redirects))
			}
			for _, id := range actions.Redirects {
				if _, ok := c.Actions.Redirects[id]; !ok {
					return fmt.Errorf("workflow config: on_update[%s][%s] references unknown redirect %q", prefix, status, id)
				}
			}
		}
	}
	return nil
}

// IsAllowed reports whether status is in the allowed set
func (c *WorkflowConfig) IsAllowed(status string) bool {
	return contains(c.AllowedStatuses, status)
}

// IsDraft reports whether status marks a request as draft
func (c *WorkflowConfig) IsDraft(status string) bool {
	return contains(c.DraftStatuses, status)
}

// IsUpdateAccess reports whether reaching status triggers a grant or revoke
func (c *WorkflowConfig) IsUpdateAccess(status string) bool {
	return contains(c.UpdateAccessStatuses, status)
}

// IsFinal reports whether status closes a request
func (c *WorkflowConfig) IsFinal(status string) bool {
	return contains(c.FinalStatuses, status)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
