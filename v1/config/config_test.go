package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"DRAFT", "SUBMITTED", "APPROVED", "SIGNED", "REJECTED"}, cfg.AllowedStatuses)
	assert.Equal(t, []string{"DRAFT"}, cfg.DraftStatuses)
	assert.Equal(t, []string{"APPROVED"}, cfg.UpdateAccessStatuses)
	assert.Equal(t, []string{"SIGNED", "REJECTED"}, cfg.FinalStatuses)
	assert.Equal(t, "SUBMITTED", cfg.DefaultInitial)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ALLOWED_STATUSES", "PENDING, OPEN, CLOSED")
	t.Setenv("DRAFT_STATUSES", "PENDING")
	t.Setenv("UPDATE_ACCESS_STATUSES", "OPEN")
	t.Setenv("FINAL_STATUSES", "CLOSED")
	t.Setenv("DEFAULT_INITIAL_STATUS", "OPEN")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"PENDING", "OPEN", "CLOSED"}, cfg.AllowedStatuses)
	assert.True(t, cfg.IsDraft("PENDING"))
	assert.True(t, cfg.IsUpdateAccess("OPEN"))
	assert.True(t, cfg.IsFinal("CLOSED"))
	assert.False(t, cfg.IsFinal("OPEN"))
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.json")
	content := `{
		"default_initial_status": "DRAFT",
		"actions": {
			"on_update": {
				"/study": {
					"APPROVED": {
						"redirect_configs": ["data_portal"],
						"external_call_configs": ["notify"]
					}
				}
			},
			"redirect_configs": {
				"data_portal": {"redirect_url": "https://portal.example.com/review", "params": ["request_id"]}
			},
			"external_call_configs": {
				"notify": {"method": "POST", "url": "https://hooks.example.com/notify", "creds": "hook_creds"}
			},
			"credentials": {
				"hook_creds": {"client_id": "id", "client_secret": "secret", "token_url": "https://idp.example.com/token"}
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("WORKFLOW_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DRAFT", cfg.DefaultInitial)
	// Env defaults survive where the file is silent
	assert.Equal(t, []string{"SIGNED", "REJECTED"}, cfg.FinalStatuses)

	actions := cfg.Actions.OnUpdate["/study"]["APPROVED"]
	assert.Equal(t, []string{"data_portal"}, actions.Redirects)
	assert.Equal(t, []string{"notify"}, actions.ExternalCalls)
	assert.Equal(t, "https://portal.example.com/review", cfg.Actions.Redirects["data_portal"].RedirectURL)
	assert.Equal(t, "hook_creds", cfg.Actions.ExternalCalls["notify"].CredentialsID)
}

func TestValidate(t *testing.T) {
	base := func() *WorkflowConfig {
		return &WorkflowConfig{
			AllowedStatuses:      []string{"DRAFT", "SUBMITTED", "APPROVED", "SIGNED"},
			DraftStatuses:        []string{"DRAFT"},
			UpdateAccessStatuses: []string{"APPROVED"},
			FinalStatuses:        []string{"SIGNED"},
			DefaultInitial:       "SUBMITTED",
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("draft status not allowed", func(t *testing.T) {
		cfg := base()
		cfg.DraftStatuses = []string{"SCRIBBLE"}
		assert.ErrorContains(t, cfg.Validate(), "SCRIBBLE")
	})

	t.Run("default initial must not be final", func(t *testing.T) {
		cfg := base()
		cfg.DefaultInitial = "SIGNED"
		assert.ErrorContains(t, cfg.Validate(), "must not be final")
	})

	t.Run("default initial must be allowed", func(t *testing.T) {
		cfg := base()
		cfg.DefaultInitial = "WHATEVER"
		assert.Error(t, cfg.Validate())
	})

	t.Run("on_update references unknown status", func(t *testing.T) {
		cfg := base()
		cfg.Actions.OnUpdate = map[string]map[string]StatusActions{
			"/study": {"BOGUS": {}},
		}
		assert.ErrorContains(t, cfg.Validate(), "unknown status")
	})

	t.Run("dangling external call reference", func(t *testing.T) {
		cfg := base()
		cfg.Actions.OnUpdate = map[string]map[string]StatusActions{
			"/study": {"APPROVED": {ExternalCalls: []string{"missing"}}},
		}
		assert.ErrorContains(t, cfg.Validate(), "unknown external call")
	})

	t.Run("dangling credentials reference", func(t *testing.T) {
		cfg := base()
		cfg.Actions.OnUpdate = map[string]map[string]StatusActions{
			"/study": {"APPROVED": {ExternalCalls: []string{"notify"}}},
		}
		cfg.Actions.ExternalCalls = map[string]ExternalCallConfig{
			"notify": {Method: "POST", URL: "https://example.com", CredentialsID: "nope"},
		}
		assert.ErrorContains(t, cfg.Validate(), "unknown credentials")
	})

	t.Run("more than one redirect per rule", func(t *testing.T) {
		cfg := base()
		cfg.Actions.OnUpdate = map[string]map[string]StatusActions{
			"/study": {"APPROVED": {Redirects: []string{"portal_a", "portal_b"}}},
		}
		cfg.Actions.Redirects = map[string]RedirectConfig{
			"portal_a": {RedirectURL: "https://a.example.com"},
			"portal_b": {RedirectURL: "https://b.example.com"},
		}
		assert.ErrorContains(t, cfg.Validate(), "at most one")
	})

	t.Run("dangling redirect reference", func(t *testing.T) {
		cfg := base()
		cfg.Actions.OnUpdate = map[string]map[string]StatusActions{
			"/study": {"APPROVED": {Redirects: []string{"missing"}}},
		}
		assert.ErrorContains(t, cfg.Validate(), "unknown redirect")
	})
}
