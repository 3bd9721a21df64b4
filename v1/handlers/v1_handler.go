package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gov-dx-sandbox/access-broker/shared/utils"
	"github.com/gov-dx-sandbox/access-broker/v1/config"
	"github.com/gov-dx-sandbox/access-broker/v1/middleware"
	"github.com/gov-dx-sandbox/access-broker/v1/models"
	"github.com/gov-dx-sandbox/access-broker/v1/services"
	authutils "github.com/gov-dx-sandbox/access-broker/v1/utils"

	"gorm.io/gorm"
)

// V1Handler handles all V1 API routes
type V1Handler struct {
	requestService *services.RequestService
}

// NewV1Handler creates a new V1 handler
func NewV1Handler(db *gorm.DB) (*V1Handler, error) {
	policyServiceURL := os.Getenv("CHOREO_POLICY_CONNECTION_SERVICEURL")
	if policyServiceURL == "" {
		return nil, fmt.Errorf("CHOREO_POLICY_CONNECTION_SERVICEURL environment variable not set")
	}

	policyServiceAPIKey := os.Getenv("CHOREO_POLICY_CONNECTION_CHOREOAPIKEY")
	if policyServiceAPIKey == "" {
		return nil, fmt.Errorf("CHOREO_POLICY_CONNECTION_CHOREOAPIKEY environment variable not set")
	}

	workflowConfig, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow configuration: %w", err)
	}

	policyService := services.NewPolicyService(policyServiceURL, policyServiceAPIKey)
	slog.Info("Policy engine URL", "url", policyServiceURL)

	requestService := services.NewRequestService(
		services.NewRequestStore(db),
		policyService,
		services.NewActionService(workflowConfig.Actions),
		workflowConfig,
	)

	return &V1Handler{requestService: requestService}, nil
}

// NewV1HandlerWithService creates a handler around an existing request
// service. Used by tests that stub the policy engine.
func NewV1HandlerWithService(requestService *services.RequestService) *V1Handler {
	return &V1Handler{requestService: requestService}
}

// SetupV1Routes configures all V1 API routes
func (h *V1Handler) SetupV1Routes(mux *http.ServeMux) {
	mux.Handle("/api/v1/requests", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleRequests)))
	mux.Handle("/api/v1/requests/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleRequests)))
}

// handleRequests handles request-related routes
func (h *V1Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/requests")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	// Handle collection endpoint: GET /api/v1/requests and POST /api/v1/requests
	if len(parts) == 1 && parts[0] == "" {
		switch r.Method {
		case http.MethodGet:
			h.listRequests(w, r)
		case http.MethodPost:
			h.createRequest(w, r)
		default:
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if len(parts) != 1 || parts[0] == "" {
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	// Named sub-resources before the id routes
	switch parts[0] {
	case "user":
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.listUserRequests(w, r)
		return
	case "user-resource-paths":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.checkUserResourcePaths(w, r)
		return
	}

	requestId := parts[0]

	// Handle specific request endpoint: GET|PUT|DELETE /api/v1/requests/:requestId
	switch r.Method {
	case http.MethodGet:
		h.getRequest(w, r, requestId)
	case http.MethodPut:
		h.updateRequest(w, r, requestId)
	case http.MethodDelete:
		h.deleteRequest(w, r, requestId)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// createRequest handles POST /api/v1/requests, with an optional ?revoke
// query parameter for revocation requests
func (h *V1Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var input models.CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	revoke, err := parseBoolParam(r, "revoke")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid 'revoke' query parameter")
		return
	}
	input.Revoke = revoke

	// Requests default to the caller's own identity
	if input.Username == "" {
		input.Username = caller.Username
	}

	response, err := h.requestService.CreateRequest(&input, caller)
	if err != nil {
		h.respondServiceError(w, r, err, "create request")
		return
	}

	middleware.LogAuditEvent(r, string(models.ResourceTypeRequests), &response.RequestID, string(models.AuditStatusSuccess))
	utils.RespondWithJSON(w, http.StatusCreated, response)
}

// listRequests handles GET /api/v1/requests with optional filters
func (h *V1Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	query := r.URL.Query()
	filter := models.ListRequestsFilter{
		Username:   query["username"],
		PolicyID:   query["policy_id"],
		Status:     query["status"],
		ResourceID: query["resource_id"],
	}
	if query.Has("revoke") {
		revoke, err := parseBoolParam(r, "revoke")
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid 'revoke' query parameter")
			return
		}
		filter.Revoke = &revoke
	}

	responses, err := h.requestService.ListRequests(filter, caller)
	if err != nil {
		h.respondServiceError(w, r, err, "list requests")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, responses)
}

// listUserRequests handles GET /api/v1/requests/user
func (h *V1Handler) listUserRequests(w http.ResponseWriter, r *http.Request) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	responses, err := h.requestService.ListUserRequests(caller)
	if err != nil {
		h.respondServiceError(w, r, err, "list user requests")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, responses)
}

// checkResourcePathsInput is the payload for POST /api/v1/requests/user-resource-paths
type checkResourcePathsInput struct {
	ResourcePaths []string `json:"resource_paths"`
	Permissions   []string `json:"permissions,omitempty"`
}

// checkUserResourcePaths handles POST /api/v1/requests/user-resource-paths
func (h *V1Handler) checkUserResourcePaths(w http.ResponseWriter, r *http.Request) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var input checkResourcePathsInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(input.ResourcePaths) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "'resource_paths' is required")
		return
	}

	result, err := h.requestService.CheckUserResourcePaths(caller, input.ResourcePaths, input.Permissions)
	if err != nil {
		h.respondServiceError(w, r, err, "check resource paths")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}

// getRequest handles GET /api/v1/requests/:requestId
func (h *V1Handler) getRequest(w http.ResponseWriter, r *http.Request, requestId string) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	response, err := h.requestService.GetRequest(requestId, caller)
	if err != nil {
		h.respondServiceError(w, r, err, "get request")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}

// updateRequest handles PUT /api/v1/requests/:requestId
func (h *V1Handler) updateRequest(w http.ResponseWriter, r *http.Request, requestId string) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var input models.UpdateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		h.respondServiceError(w, r, err, "update request")
		return
	}

	response, err := h.requestService.UpdateRequest(requestId, input.Status, caller)
	if err != nil {
		h.respondServiceError(w, r, err, "update request")
		return
	}

	middleware.LogAuditEvent(r, string(models.ResourceTypeRequests), &requestId, string(models.AuditStatusSuccess))
	utils.RespondWithJSON(w, http.StatusOK, response)
}

// deleteRequest handles DELETE /api/v1/requests/:requestId
func (h *V1Handler) deleteRequest(w http.ResponseWriter, r *http.Request, requestId string) {
	caller, err := h.callerFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.requestService.DeleteRequest(requestId, caller); err != nil {
		h.respondServiceError(w, r, err, "delete request")
		return
	}

	middleware.LogAuditEvent(r, string(models.ResourceTypeRequests), &requestId, string(models.AuditStatusSuccess))
	w.WriteHeader(http.StatusNoContent)
}

// callerFromRequest builds the workflow caller from the authenticated
// request context set by the JWT middleware
func (h *V1Handler) callerFromRequest(r *http.Request) (*services.Caller, error) {
	authCtx, err := authutils.GetAuthContext(r.Context())
	if err != nil {
		return nil, err
	}

	return &services.Caller{
		Username: authCtx.User.Username,
		Token:    authCtx.Token,
		IsAdmin:  authCtx.User.IsAdmin(),
	}, nil
}

// respondServiceError maps a workflow error to its HTTP response and audits
// failed write operations
func (h *V1Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	status := models.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request operation failed", "operation", operation, "error", err)
	} else {
		slog.Warn("Request operation rejected", "operation", operation, "status", status, "error", err)
	}

	middleware.LogAuditEvent(r, string(models.ResourceTypeRequests), nil, string(models.AuditStatusFailure))

	message := "Internal server error"
	var appErr *models.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		message = appErr.Message
	}

	utils.RespondWithJSON(w, status, models.ErrorResponse{
		Error: message,
		Code:  models.ErrorCode(err),
	})
}

// parseBoolParam reads an optional boolean query parameter. A bare flag
// (present without a value) counts as true.
func parseBoolParam(r *http.Request, name string) (bool, error) {
	if !r.URL.Query().Has(name) {
		return false, nil
	}
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return true, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, err
	}
	return value, nil
}
