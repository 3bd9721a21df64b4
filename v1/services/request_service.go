package services

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gov-dx-sandbox/access-broker/v1/config"
	"github.com/gov-dx-sandbox/access-broker/v1/models"
	"gorm.io/gorm"
)

// Caller is the authenticated identity a workflow operation runs on behalf
// of. Token is the raw bearer token forwarded to the policy engine for
// authorization checks.
type Caller struct {
	Username string
	ClientID string
	Token    string
	IsAdmin  bool
}

// ActionDispatcher runs post-transition actions for a status change
type ActionDispatcher interface {
	Dispatch(status string, data map[string]string, resourcePaths []string) (string, error)
}

// defaultCheckPermissions are the permissions looked for when a resource
// path check does not name any
var defaultCheckPermissions = []string{"reader", "storage_reader"}

// RequestService drives the access request workflow: creating, updating and
// deleting requests, granting or revoking access on the configured status
// transitions, and compensating when a later step fails.
type RequestService struct {
	store   *RequestStore
	policy  PolicyClient
	actions ActionDispatcher
	cfg     *config.WorkflowConfig
}

// NewRequestService creates a new instance of RequestService
func NewRequestService(store *RequestStore, policy PolicyClient, actions ActionDispatcher, cfg *config.WorkflowConfig) *RequestService {
	return &RequestService{
		store:   store,
		policy:  policy,
		actions: actions,
		cfg:     cfg,
	}
}

// authorized asks the policy engine whether the caller may perform method on
// all the given resource paths. An empty path set requires admin visibility.
func (s *RequestService) authorized(caller *Caller, method string, resourcePaths []string) (bool, error) {
	if caller.IsAdmin {
		return true, nil
	}
	if len(resourcePaths) == 0 {
		return false, nil
	}
	return s.policy.CheckAccess(caller.Token, method, resourcePaths)
}

func (s *RequestService) authorize(caller *Caller, method string, resourcePaths []string) error {
	allowed, err := s.authorized(caller, method, resourcePaths)
	if err != nil {
		return models.NewInternalError("authorization check failed", err)
	}
	if !allowed {
		return models.NewForbiddenError(fmt.Sprintf("not authorized to %s a request for the given resources", method))
	}
	return nil
}

// applyAccess performs the grant or revoke for a request. An unconfirmed
// call is an operational failure, not an authorization decision.
func (s *RequestService) applyAccess(policyID, username string, revoke bool) error {
	var ok bool
	var err error
	if revoke {
		ok, err = s.policy.RevokePolicy(username, policyID)
	} else {
		ok, err = s.policy.GrantPolicy(username, policyID)
	}
	if err != nil {
		return models.NewInternalError("policy engine call failed", err)
	}
	if !ok {
		return models.NewInternalError(fmt.Sprintf("policy engine did not confirm access update for policy %s", policyID), nil)
	}
	return nil
}

func dispatchData(request *models.AccessRequest) map[string]string {
	return map[string]string{
		"request_id":            request.RequestID,
		"username":              request.Username,
		"policy_id":             request.PolicyID,
		"status":                request.Status,
		"revoke":                strconv.FormatBool(request.Revoke),
		"resource_id":           request.ResourceID,
		"resource_display_name": request.ResourceDisplayName,
	}
}

// CreateRequest runs the create workflow. The caller is authorized against
// the policy's resource paths before any backend resource or database row is
// created; a dispatch failure rolls back everything this call applied.
func (s *RequestService) CreateRequest(input *models.CreateRequestInput, caller *Caller) (*models.AccessRequestResponse, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	policyID := input.PolicyID
	var matchedResourcePaths []string
	deferredPolicyCreate := false

	if policyID == "" {
		resourcePaths := input.ResourcePaths
		if len(resourcePaths) == 0 {
			resourcePaths = []string{input.ResourcePath}
		}

		if len(input.RoleIDs) > 0 {
			if err := s.verifyRolesExist(input.RoleIDs); err != nil {
				return nil, err
			}
		}

		// Derive the id now but create nothing in the policy engine until
		// the caller has passed authorization.
		policyID = DerivePolicyID(resourcePaths, input.RoleIDs)
		matchedResourcePaths = resourcePaths
		deferredPolicyCreate = true
	} else {
		policies, err := s.policy.ListPolicies(true)
		if err != nil {
			return nil, models.NewInternalError("failed to list policies", err)
		}
		if GetPolicyForID(policies, policyID) == nil {
			return nil, models.NewInvalidRequestError(fmt.Sprintf("policy '%s' does not exist", policyID))
		}
		matchedResourcePaths = GetResourcePathsForPolicy(policies, policyID)
	}

	if err := s.authorize(caller, "create", matchedResourcePaths); err != nil {
		return nil, err
	}

	if deferredPolicyCreate {
		if _, err := s.policy.CreatePolicy(matchedResourcePaths, input.RoleIDs); err != nil {
			return nil, models.NewInternalError("failed to create policy", err)
		}
	}

	status := input.Status
	if status == "" {
		status = s.cfg.DefaultInitial
	}
	if !s.cfg.IsAllowed(status) {
		return nil, models.NewInvalidRequestError(fmt.Sprintf("status '%s' is not an allowed status", status))
	}

	username := input.Username
	if username == "" {
		username = caller.Username
	}
	if username == "" {
		return nil, models.NewInvalidRequestError("no username provided and the caller has no user identity")
	}

	if input.Revoke {
		has, err := s.policy.UserHasPolicy(username, policyID)
		if err != nil {
			return nil, models.NewInternalError("failed to check user policies", err)
		}
		if !has {
			return nil, models.NewInvalidRequestError(fmt.Sprintf("user '%s' does not have access granted by policy '%s', cannot revoke", username, policyID))
		}
	}

	open, err := s.store.FindOpen(username, policyID, input.Revoke, s.cfg.FinalStatuses)
	if err != nil {
		return nil, models.NewInternalError("failed to check for open requests", err)
	}

	var request *models.AccessRequest
	inserted := false
	for i := range open {
		if !s.cfg.IsDraft(open[i].Status) {
			return nil, models.NewConflictError(fmt.Sprintf("an open request already exists for user '%s' and policy '%s'", username, policyID))
		}
		// Reuse the existing draft instead of creating a duplicate
		request = &open[i]
	}

	if request == nil {
		request = &models.AccessRequest{
			RequestID:           models.NewRequestID(),
			Username:            username,
			PolicyID:            policyID,
			Revoke:              input.Revoke,
			Status:              status,
			ResourceID:          input.ResourceID,
			ResourceDisplayName: input.ResourceDisplayName,
		}
		if err := s.store.Insert(request); err != nil {
			if err == ErrDuplicateRequestID {
				return nil, models.NewConflictError("request id collision, retry the operation")
			}
			return nil, models.NewInternalError("failed to persist request", err)
		}
		inserted = true
	}

	accessApplied := false
	if s.cfg.IsUpdateAccess(request.Status) {
		if err := s.applyAccess(policyID, username, request.Revoke); err != nil {
			s.compensateCreate(request, inserted, false)
			return nil, err
		}
		accessApplied = true
	}

	redirectURL, err := s.actions.Dispatch(request.Status, dispatchData(request), matchedResourcePaths)
	if err != nil {
		s.compensateCreate(request, inserted, accessApplied)
		return nil, models.NewInternalError("post-transition actions failed", err)
	}

	response := request.ToResponse()
	if redirectURL != "" {
		response.RedirectURL = &redirectURL
	}
	return response, nil
}

// compensateCreate undoes the effects of a failed create: the inserted row
// is removed and an applied grant/revoke is inverted
func (s *RequestService) compensateCreate(request *models.AccessRequest, inserted, accessApplied bool) {
	if inserted {
		if _, err := s.store.DeleteByID(request.RequestID); err != nil {
			slog.Error("compensation failed: could not delete request row",
				"requestId", request.RequestID, "error", err)
		}
	}
	if accessApplied {
		if err := s.applyAccess(request.PolicyID, request.Username, !request.Revoke); err != nil {
			slog.Error("compensation failed: could not invert access update",
				"requestId", request.RequestID, "policyId", request.PolicyID, "error", err)
		}
	}
}

func (s *RequestService) verifyRolesExist(roleIDs []string) error {
	roles, err := s.policy.ListRoles()
	if err != nil {
		return models.NewInternalError("failed to list roles", err)
	}

	known := make(map[string]bool, len(roles))
	for _, role := range roles {
		known[role.ID] = true
	}

	var missing []string
	for _, id := range roleIDs {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return models.NewInvalidRequestError(fmt.Sprintf("role(s) %s do not exist", strings.Join(missing, ", ")))
	}
	return nil
}

// UpdateRequest transitions a request to a new status. The row is locked for
// the duration of the transaction so concurrent updates on the same id
// serialize; a grant or revoke triggered by the new status must succeed
// before the status is persisted.
func (s *RequestService) UpdateRequest(id string, newStatus string, caller *Caller) (*models.AccessRequestResponse, error) {
	if strings.TrimSpace(newStatus) == "" {
		return nil, models.NewInvalidRequestError("'status' is required")
	}

	policies, err := s.policy.ListPolicies(true)
	if err != nil {
		return nil, models.NewInternalError("failed to list policies", err)
	}

	var request *models.AccessRequest
	var matchedResourcePaths []string
	var priorStatus string
	var priorUpdated time.Time
	idempotent := false
	accessApplied := false

	err = s.store.Transaction(func(tx *gorm.DB) error {
		request, err = s.store.GetByIDForUpdate(tx, id)
		if err != nil {
			return models.NewInternalError("failed to fetch request", err)
		}
		if request == nil {
			return models.NewNotFoundError("request", id)
		}

		matchedResourcePaths = GetResourcePathsForPolicy(policies, request.PolicyID)
		if err := s.authorize(caller, "update", matchedResourcePaths); err != nil {
			return err
		}

		if request.Status == newStatus {
			idempotent = true
			return nil
		}
		if !s.cfg.IsAllowed(newStatus) {
			return models.NewInvalidRequestError(fmt.Sprintf("status '%s' is not an allowed status", newStatus))
		}

		// Access must be updated before the database reflects the new
		// status: an observer must never see an approved request whose
		// access was not actually granted.
		if s.cfg.IsUpdateAccess(newStatus) {
			if err := s.applyAccess(request.PolicyID, request.Username, request.Revoke); err != nil {
				return err
			}
			accessApplied = true
		}

		priorStatus = request.Status
		priorUpdated = request.UpdatedAt
		now := time.Now().UTC()
		if err := s.store.UpdateStatus(tx, id, newStatus, now); err != nil {
			return models.NewInternalError("failed to persist status", err)
		}
		request.Status = newStatus
		request.UpdatedAt = now
		return nil
	})
	if err != nil {
		// A grant applied inside a rolled-back transaction must be undone
		if accessApplied {
			if invErr := s.applyAccess(request.PolicyID, request.Username, !request.Revoke); invErr != nil {
				slog.Error("compensation failed: could not invert access update",
					"requestId", id, "error", invErr)
			}
		}
		return nil, err
	}

	if idempotent {
		return request.ToResponse(), nil
	}

	redirectURL, dispatchErr := s.actions.Dispatch(newStatus, dispatchData(request), matchedResourcePaths)
	if dispatchErr != nil {
		s.compensateUpdate(request, priorStatus, priorUpdated, accessApplied)
		return nil, models.NewInternalError("post-transition actions failed", dispatchErr)
	}

	response := request.ToResponse()
	if redirectURL != "" {
		response.RedirectURL = &redirectURL
	}
	return response, nil
}

// compensateUpdate restores the request's prior status and inverts an
// applied grant/revoke after a failed dispatch
func (s *RequestService) compensateUpdate(request *models.AccessRequest, priorStatus string, priorUpdated time.Time, accessApplied bool) {
	err := s.store.Transaction(func(tx *gorm.DB) error {
		return s.store.UpdateStatus(tx, request.RequestID, priorStatus, priorUpdated)
	})
	if err != nil {
		slog.Error("compensation failed: could not restore prior status",
			"requestId", request.RequestID, "priorStatus", priorStatus, "error", err)
	}
	if accessApplied {
		if err := s.applyAccess(request.PolicyID, request.Username, !request.Revoke); err != nil {
			slog.Error("compensation failed: could not invert access update",
				"requestId", request.RequestID, "policyId", request.PolicyID, "error", err)
		}
	}
}

// DeleteRequest removes a request. The delete and the authorization check
// share a transaction so a denial rolls the delete back.
func (s *RequestService) DeleteRequest(id string, caller *Caller) error {
	policies, err := s.policy.ListPolicies(true)
	if err != nil {
		return models.NewInternalError("failed to list policies", err)
	}

	return s.store.Transaction(func(tx *gorm.DB) error {
		deleted, err := s.store.Delete(tx, id)
		if err != nil {
			return models.NewInternalError("failed to delete request", err)
		}
		if deleted == nil {
			return models.NewNotFoundError("request", id)
		}

		matchedResourcePaths := GetResourcePathsForPolicy(policies, deleted.PolicyID)
		return s.authorize(caller, "delete", matchedResourcePaths)
	})
}

// GetRequest fetches a request by id. Missing and unauthorized rows are
// indistinguishable to the caller.
func (s *RequestService) GetRequest(id string, caller *Caller) (*models.AccessRequestResponse, error) {
	request, err := s.store.GetByID(id)
	if err != nil {
		return nil, models.NewInternalError("failed to fetch request", err)
	}
	if request == nil {
		return nil, models.NewNotFoundError("request", id)
	}

	policies, err := s.policy.ListPolicies(true)
	if err != nil {
		return nil, models.NewInternalError("failed to list policies", err)
	}
	resourcePaths := GetResourcePathsForPolicy(policies, request.PolicyID)

	allowed, err := s.authorized(caller, "read", resourcePaths)
	if err != nil {
		return nil, models.NewInternalError("authorization check failed", err)
	}
	if !allowed {
		return nil, models.NewNotFoundError("request", id)
	}
	return request.ToResponse(), nil
}

// ListRequests returns the requests matching the filter that the caller may
// read. Rows whose policy has no visible resource paths require admin.
func (s *RequestService) ListRequests(filter models.ListRequestsFilter, caller *Caller) ([]*models.AccessRequestResponse, error) {
	policies, err := s.policy.ListPolicies(true)
	if err != nil {
		return nil, models.NewInternalError("failed to list policies", err)
	}

	requests, err := s.store.List(filter)
	if err != nil {
		return nil, models.NewInternalError("failed to list requests", err)
	}

	responses := make([]*models.AccessRequestResponse, 0, len(requests))
	for i := range requests {
		resourcePaths := GetResourcePathsForPolicy(policies, requests[i].PolicyID)
		allowed, err := s.authorized(caller, "read", resourcePaths)
		if err != nil {
			return nil, models.NewInternalError("authorization check failed", err)
		}
		if allowed {
			responses = append(responses, requests[i].ToResponse())
		}
	}
	return responses, nil
}

// ListUserRequests returns the caller's own requests without per-row
// authorization
func (s *RequestService) ListUserRequests(caller *Caller) ([]*models.AccessRequestResponse, error) {
	if caller.Username == "" {
		return nil, models.NewInvalidRequestError("the caller has no user identity")
	}

	requests, err := s.store.List(models.ListRequestsFilter{Username: []string{caller.Username}})
	if err != nil {
		return nil, models.NewInternalError("failed to list requests", err)
	}

	responses := make([]*models.AccessRequestResponse, 0, len(requests))
	for i := range requests {
		responses = append(responses, requests[i].ToResponse())
	}
	return responses, nil
}

// CheckUserResourcePaths reports, per resource path, whether the caller has
// an open non-draft request whose policy covers the path with the requested
// permissions.
func (s *RequestService) CheckUserResourcePaths(caller *Caller, resourcePaths []string, permissions []string) (map[string]bool, error) {
	if caller.Username == "" {
		return nil, models.NewInvalidRequestError("the caller has no user identity")
	}
	if len(permissions) == 0 {
		permissions = defaultCheckPermissions
	}

	noRevoke := false
	requests, err := s.store.List(models.ListRequestsFilter{
		Username:        []string{caller.Username},
		Revoke:          &noRevoke,
		ExcludeStatuses: append(append([]string{}, s.cfg.FinalStatuses...), s.cfg.DraftStatuses...),
	})
	if err != nil {
		return nil, models.NewInternalError("failed to list requests", err)
	}

	policies, err := s.policy.ListPolicies(true)
	if err != nil {
		return nil, models.NewInternalError("failed to list policies", err)
	}

	result := make(map[string]bool, len(resourcePaths))
	for _, resourcePath := range resourcePaths {
		result[resourcePath] = false
		for i := range requests {
			policy := GetPolicyForID(policies, requests[i].PolicyID)
			if policy == nil || !policyCarriesPermissions(policy, permissions) {
				continue
			}
			for _, policyPath := range policy.ResourcePaths {
				if IsPathPrefixOf(policyPath, resourcePath) {
					result[resourcePath] = true
					break
				}
			}
			if result[resourcePath] {
				break
			}
		}
	}
	return result, nil
}

// policyCarriesPermissions reports whether the policy's roles include every
// requested permission id
func policyCarriesPermissions(policy *models.ExpandedPolicy, permissions []string) bool {
	held := make(map[string]bool)
	for _, role := range policy.Roles {
		for _, permission := range role.Permissions {
			held[permission.ID] = true
		}
	}
	for _, permission := range permissions {
		if !held[permission] {
			return false
		}
	}
	return true
}
