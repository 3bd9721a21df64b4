package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gov-dx-sandbox/access-broker/v1/config"
	"github.com/gov-dx-sandbox/access-broker/v1/models"
	"github.com/gov-dx-sandbox/access-broker/v1/services"
	authutils "github.com/gov-dx-sandbox/access-broker/v1/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewV1Handler_MissingEnvVars(t *testing.T) {
	originalURL := os.Getenv("CHOREO_POLICY_CONNECTION_SERVICEURL")
	originalKey := os.Getenv("CHOREO_POLICY_CONNECTION_CHOREOAPIKEY")
	defer func() {
		os.Setenv("CHOREO_POLICY_CONNECTION_SERVICEURL", originalURL)
		os.Setenv("CHOREO_POLICY_CONNECTION_CHOREOAPIKEY", originalKey)
	}()

	os.Unsetenv("CHOREO_POLICY_CONNECTION_SERVICEURL")
	os.Unsetenv("CHOREO_POLICY_CONNECTION_CHOREOAPIKEY")

	db := services.SetupSQLiteTestDB(t)

	// Case 1: Missing policy engine URL
	handler, err := NewV1Handler(db)
	assert.Error(t, err)
	assert.Nil(t, handler)
	assert.Contains(t, err.Error(), "CHOREO_POLICY_CONNECTION_SERVICEURL environment variable not set")

	os.Setenv("CHOREO_POLICY_CONNECTION_SERVICEURL", "http://policy-engine:8080")

	// Case 2: Missing policy engine API key
	handler, err = NewV1Handler(db)
	assert.Error(t, err)
	assert.Nil(t, handler)
	assert.Contains(t, err.Error(), "CHOREO_POLICY_CONNECTION_CHOREOAPIKEY environment variable not set")

	os.Setenv("CHOREO_POLICY_CONNECTION_CHOREOAPIKEY", "api-key")

	// Case 3: Success
	handler, err = NewV1Handler(db)
	assert.NoError(t, err)
	assert.NotNil(t, handler)
}

// policyEngineTestStub serves the handful of policy engine endpoints the
// request lifecycle exercises
func policyEngineTestStub(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/policy":
			json.NewEncoder(w).Encode(models.PolicyList{Policies: []models.ExpandedPolicy{
				{
					ID:            "study.123_accessor",
					ResourcePaths: []string{"/study/123"},
					Roles: []models.PolicyRole{
						{ID: "reader", Permissions: []models.PolicyPermission{
							{ID: "reader", Action: models.PolicyAction{Service: "*", Method: "read"}},
						}},
						{ID: "storage_reader", Permissions: []models.PolicyPermission{
							{ID: "storage_reader", Action: models.PolicyAction{Service: "*", Method: "read-storage"}},
						}},
					},
				},
			}})
		case r.Method == http.MethodPost && r.URL.Path == "/auth/request":
			json.NewEncoder(w).Encode(models.AuthResponse{Auth: true})
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/role/"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && (r.URL.Path == "/role" || r.URL.Path == "/resource" || r.URL.Path == "/policy" || r.URL.Path == "/user"):
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/policy") && strings.HasPrefix(r.URL.Path, "/user/"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/user/"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/user/"):
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected policy engine call: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
}

func newTestMux(t *testing.T, engineURL string) *http.ServeMux {
	cfg, err := config.Load()
	require.NoError(t, err)

	svc := services.NewRequestService(
		services.NewRequestStore(services.SetupSQLiteTestDB(t)),
		services.NewPolicyService(engineURL, "test-key"),
		services.NewActionService(cfg.Actions),
		cfg,
	)

	mux := http.NewServeMux()
	NewV1HandlerWithService(svc).SetupV1Routes(mux)
	return mux
}

// authenticatedRequest builds a request carrying an admin auth context, the
// way the JWT middleware leaves it
func authenticatedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	user := &models.AuthenticatedUser{
		IdpUserID: "idp-user-1",
		Username:  "alice",
		Roles:     []models.Role{models.RoleAdmin},
	}
	ctx := authutils.SetAuthenticatedUser(req.Context(), user)
	ctx = authutils.SetAuthContext(ctx, &models.AuthContext{User: user, Token: "test-token"})
	return req.WithContext(ctx)
}

func TestV1Handler_RequestLifecycle(t *testing.T) {
	engine := policyEngineTestStub(t)
	defer engine.Close()

	mux := newTestMux(t, engine.URL)

	// Create from a resource path
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/api/v1/requests",
		`{"resource_path": "/study/123"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.AccessRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, "study.123_accessor", created.PolicyID)
	assert.Equal(t, string(models.StatusSubmitted), created.Status)
	assert.False(t, created.Revoke)
	assert.True(t, strings.HasPrefix(created.RequestID, "req_"))

	// Get by id
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/api/v1/requests/"+created.RequestID, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// List all
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/api/v1/requests", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.AccessRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	// List own
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/api/v1/requests/user", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	// Approve: update-access status grants the policy
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/api/v1/requests/"+created.RequestID,
		`{"status": "APPROVED"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated models.AccessRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, string(models.StatusApproved), updated.Status)

	// Same-status update is idempotent
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/api/v1/requests/"+created.RequestID,
		`{"status": "APPROVED"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Delete
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodDelete, "/api/v1/requests/"+created.RequestID, ""))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Gone afterwards
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/api/v1/requests/"+created.RequestID, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestV1Handler_CheckUserResourcePaths(t *testing.T) {
	engine := policyEngineTestStub(t)
	defer engine.Close()

	mux := newTestMux(t, engine.URL)

	// No requests yet: every path is false
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/api/v1/requests/user-resource-paths",
		`{"resource_paths": ["/study/123", "/other"]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result["/study/123"])
	assert.False(t, result["/other"])

	// File a request, then the covered path flips to true
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/api/v1/requests",
		`{"resource_path": "/study/123"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/api/v1/requests/user-resource-paths",
		`{"resource_paths": ["/study/123", "/study/123/sub", "/other"]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result["/study/123"])
	assert.True(t, result["/study/123/sub"])
	assert.False(t, result["/other"])
}

func TestV1Handler_ValidationErrors(t *testing.T) {
	engine := policyEngineTestStub(t)
	defer engine.Close()

	mux := newTestMux(t, engine.URL)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"malformed body", http.MethodPost, "/api/v1/requests", `{not json`, http.StatusBadRequest},
		{"no policy or resource", http.MethodPost, "/api/v1/requests", `{}`, http.StatusBadRequest},
		{"both policy and resource", http.MethodPost, "/api/v1/requests",
			`{"policy_id": "p", "resource_path": "/r"}`, http.StatusBadRequest},
		{"invalid revoke param", http.MethodPost, "/api/v1/requests?revoke=maybe",
			`{"resource_path": "/study/123"}`, http.StatusBadRequest},
		{"update without status", http.MethodPut, "/api/v1/requests/req_missing", `{}`, http.StatusBadRequest},
		{"update status too long", http.MethodPut, "/api/v1/requests/req_missing",
			`{"status": "` + strings.Repeat("S", models.MaxStatusLength+1) + `"}`, http.StatusBadRequest},
		{"update unknown id", http.MethodPut, "/api/v1/requests/req_missing",
			`{"status": "APPROVED"}`, http.StatusNotFound},
		{"delete unknown id", http.MethodDelete, "/api/v1/requests/req_missing", "", http.StatusNotFound},
		{"empty resource paths", http.MethodPost, "/api/v1/requests/user-resource-paths",
			`{"resource_paths": []}`, http.StatusBadRequest},
		{"method not allowed", http.MethodPatch, "/api/v1/requests", "", http.StatusMethodNotAllowed},
		{"user listing wrong method", http.MethodPost, "/api/v1/requests/user", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, authenticatedRequest(tt.method, tt.target, tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestV1Handler_Unauthenticated(t *testing.T) {
	engine := policyEngineTestStub(t)
	defer engine.Close()

	mux := newTestMux(t, engine.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
