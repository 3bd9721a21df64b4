package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gov-dx-sandbox/access-broker/v1/models"
)

// PolicyClient is the policy backend gateway consumed by the request
// workflow. Implementations surface raw per-call success or failure; partial
// failures are the workflow's responsibility to compensate.
type PolicyClient interface {
	ListPolicies(expand bool) ([]models.ExpandedPolicy, error)
	ListRoles() ([]models.PolicyRole, error)
	CreatePolicy(resourcePaths []string, roleIDs []string) (string, error)
	UserHasPolicy(username, policyID string) (bool, error)
	GrantPolicy(username, policyID string) (bool, error)
	RevokePolicy(username, policyID string) (bool, error)
	CheckAccess(token string, method string, resourcePaths []string) (bool, error)
}

// defaultReaderRoles is the role set created for policies requested without
// explicit roles
var defaultReaderRoles = []models.PolicyRole{
	{
		ID:          "reader",
		Description: "Read access",
		Permissions: []models.PolicyPermission{
			{ID: "reader", Action: models.PolicyAction{Service: "*", Method: "read"}},
		},
	},
	{
		ID:          "storage_reader",
		Description: "Storage read access",
		Permissions: []models.PolicyPermission{
			{ID: "storage_reader", Action: models.PolicyAction{Service: "*", Method: "read-storage"}},
		},
	},
}

// serviceName identifies this service in authorization checks against the
// policy backend
const serviceName = "access-broker"

// PolicyService talks to the external policy engine over HTTP
type PolicyService struct {
	// baseURL is the endpoint of the policy engine
	baseURL string
	// apiKey is the Choreo API key for internal auth
	apiKey string
	// HTTPClient is used to make requests to the policy engine
	HTTPClient *http.Client
}

// NewPolicyService creates a new instance of PolicyService
func NewPolicyService(baseURL string, apiKey string) *PolicyService {
	return &PolicyService{
		baseURL:    baseURL,
		apiKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends a JSON request to the policy engine and returns the response
// with its body read. The caller owns status-code interpretation.
func (s *PolicyService) do(method, path string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(reqBody)
	}

	httpReq, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		httpReq.Header.Set("apikey", s.apiKey)
	}

	resp, err := s.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request to policy engine: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// ListPolicies fetches all policies; when expand is set, each policy carries
// its resolved resource paths and role tree
func (s *PolicyService) ListPolicies(expand bool) ([]models.ExpandedPolicy, error) {
	path := "/policy"
	if expand {
		path += "?expand=true"
	}
	status, body, err := s.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("policy engine returned status %d listing policies: %s", status, string(body))
	}

	var list models.PolicyList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse policy list: %w", err)
	}
	return list.Policies, nil
}

// ListRoles fetches all roles known to the policy engine
func (s *PolicyService) ListRoles() ([]models.PolicyRole, error) {
	status, body, err := s.do(http.MethodGet, "/role", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("policy engine returned status %d listing roles: %s", status, string(body))
	}

	var list models.RoleList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse role list: %w", err)
	}
	return list.Roles, nil
}

// CreatePolicy idempotently creates the backing resources (parents
// auto-created), the default reader roles when no explicit roles are given,
// and finally the policy itself. Returns the derived policy id.
func (s *PolicyService) CreatePolicy(resourcePaths []string, roleIDs []string) (string, error) {
	for _, resourcePath := range resourcePaths {
		if err := s.createResource(resourcePath); err != nil {
			return "", err
		}
	}

	if len(roleIDs) == 0 {
		for _, role := range defaultReaderRoles {
			if err := s.ensureRole(role); err != nil {
				return "", err
			}
			roleIDs = append(roleIDs, role.ID)
		}
		// roleIDs now carries the default set for the policy body only;
		// the derived id keeps the default role token
		policyID := DerivePolicyID(resourcePaths, nil)
		return policyID, s.createPolicyRecord(policyID, resourcePaths, roleIDs)
	}

	policyID := DerivePolicyID(resourcePaths, roleIDs)
	return policyID, s.createPolicyRecord(policyID, resourcePaths, roleIDs)
}

func (s *PolicyService) createResource(resourcePath string) error {
	payload := map[string]string{"path": resourcePath}
	status, body, err := s.do(http.MethodPost, "/resource?p=true", payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusConflict:
		return nil
	}
	return fmt.Errorf("policy engine returned status %d creating resource %s: %s", status, resourcePath, string(body))
}

// ensureRole updates the role in place, falling back to creation when the
// engine rejects the update
func (s *PolicyService) ensureRole(role models.PolicyRole) error {
	status, _, err := s.do(http.MethodPut, "/role/"+url.PathEscape(role.ID), role)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}

	slog.Debug("role update rejected, creating role", "roleId", role.ID, "status", status)
	status, body, err := s.do(http.MethodPost, "/role", role)
	if err != nil {
		return err
	}
	if (status >= 200 && status < 300) || status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("policy engine returned status %d creating role %s: %s", status, role.ID, string(body))
}

func (s *PolicyService) createPolicyRecord(policyID string, resourcePaths, roleIDs []string) error {
	payload := models.Policy{
		ID:            policyID,
		Description:   "policy created by access-broker",
		ResourcePaths: resourcePaths,
		RoleIDs:       roleIDs,
	}
	status, body, err := s.do(http.MethodPost, "/policy", payload)
	if err != nil {
		return err
	}
	if (status >= 200 && status < 300) || status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("policy engine returned status %d creating policy %s: %s", status, policyID, string(body))
}

// UserHasPolicy reports whether the user currently holds the policy
func (s *PolicyService) UserHasPolicy(username, policyID string) (bool, error) {
	status, body, err := s.do(http.MethodGet, "/user/"+url.PathEscape(username), nil)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("policy engine returned status %d fetching user %s: %s", status, username, string(body))
	}

	var user struct {
		Policies []struct {
			Policy string `json:"policy"`
		} `json:"policies"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return false, fmt.Errorf("failed to parse user response: %w", err)
	}
	for _, p := range user.Policies {
		if p.Policy == policyID {
			return true, nil
		}
	}
	return false, nil
}

// GrantPolicy ensures the user exists, then grants the policy. Success is
// reported only on the engine's 204 confirmation.
func (s *PolicyService) GrantPolicy(username, policyID string) (bool, error) {
	if err := s.ensureUser(username); err != nil {
		return false, err
	}

	payload := map[string]string{"policy": policyID}
	status, body, err := s.do(http.MethodPost, "/user/"+url.PathEscape(username)+"/policy", payload)
	if err != nil {
		return false, err
	}
	if status != http.StatusNoContent {
		slog.Error("policy grant was not confirmed", "username", username, "policyId", policyID, "status", status, "body", string(body))
		return false, nil
	}
	return true, nil
}

// RevokePolicy removes the policy from the user. Success is reported only on
// the engine's 204 confirmation.
func (s *PolicyService) RevokePolicy(username, policyID string) (bool, error) {
	status, body, err := s.do(http.MethodDelete, "/user/"+url.PathEscape(username)+"/policy/"+url.PathEscape(policyID), nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusNoContent {
		slog.Error("policy revoke was not confirmed", "username", username, "policyId", policyID, "status", status, "body", string(body))
		return false, nil
	}
	return true, nil
}

func (s *PolicyService) ensureUser(username string) error {
	payload := map[string]string{"name": username}
	status, body, err := s.do(http.MethodPost, "/user", payload)
	if err != nil {
		return err
	}
	if (status >= 200 && status < 300) || status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("policy engine returned status %d creating user %s: %s", status, username, string(body))
}

// CheckAccess asks the policy engine whether the bearer of token may perform
// method on every one of the given resource paths
func (s *PolicyService) CheckAccess(token string, method string, resourcePaths []string) (bool, error) {
	request := models.AuthRequest{
		User: models.AuthRequestUser{Token: token},
	}
	for _, resourcePath := range resourcePaths {
		request.Requests = append(request.Requests, models.AuthRequestContext{
			Resource: resourcePath,
			Action:   models.AuthRequestAction{Service: serviceName, Method: method},
		})
	}

	status, body, err := s.do(http.MethodPost, "/auth/request", request)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("policy engine returned status %d on auth request: %s", status, string(body))
	}

	var decision models.AuthResponse
	if err := json.Unmarshal(body, &decision); err != nil {
		return false, fmt.Errorf("failed to parse auth response: %w", err)
	}
	return decision.Auth, nil
}
