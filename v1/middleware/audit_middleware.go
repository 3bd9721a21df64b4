package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gov-dx-sandbox/access-broker/shared/audit"
	"github.com/gov-dx-sandbox/access-broker/v1/models"
	authutils "github.com/gov-dx-sandbox/access-broker/v1/utils"
)

// AuditMiddleware forwards audit events for write operations to the audit
// service. An empty service URL disables it.
type AuditMiddleware struct {
	auditServiceURL string
	httpClient      *http.Client
	client          *audit.Client
}

var (
	globalAuditMiddleware *AuditMiddleware
	globalAuditOnce       sync.Once
)

// NewAuditMiddleware creates an audit middleware and registers the first
// created instance as the global one
func NewAuditMiddleware(auditServiceURL string) *AuditMiddleware {
	m := &AuditMiddleware{auditServiceURL: auditServiceURL}
	if auditServiceURL != "" {
		m.httpClient = &http.Client{
			Timeout: audit.DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		}
		m.client = audit.NewClientWith(auditServiceURL, m.httpClient)
	}

	globalAuditOnce.Do(func() {
		globalAuditMiddleware = m
	})
	return m
}

// ResetGlobalAuditMiddleware clears the global instance. For tests only.
func ResetGlobalAuditMiddleware() {
	globalAuditMiddleware = nil
	globalAuditOnce = sync.Once{}
}

// LogAudit records an audit event for the request, if it is a write
// operation and the middleware is enabled. Delivery is fire-and-forget.
func (m *AuditMiddleware) LogAudit(r *http.Request, resource string, resourceID *string, status string) {
	if m.client == nil || !m.client.IsEnabled() {
		return
	}
	if !isWriteOperation(r.Method) {
		return
	}

	actorType, actorID := extractActorInfoFromRequest(r)
	if actorID == "" {
		slog.Warn("Cannot log audit event: no actor ID found")
		return
	}

	eventAction := determineEventAction(r.Method)
	if eventAction == "" {
		return
	}

	eventType := "MANAGEMENT_EVENT"
	event := &audit.AuditLogRequest{
		Timestamp:   audit.CurrentTimestamp(),
		EventType:   &eventType,
		EventAction: &eventAction,
		Status:      status,
		ActorType:   actorType,
		ActorID:     actorID,
		TargetType:  "RESOURCE",
		AdditionalMetadata: audit.MarshalMetadata(map[string]interface{}{
			"resource":   resource,
			"resourceId": resourceID,
			"path":       r.URL.Path,
		}),
	}

	m.client.LogEvent(context.Background(), event)
}

// LogAuditEvent records an audit event through the global middleware
func LogAuditEvent(r *http.Request, resource string, resourceID *string, status string) {
	if globalAuditMiddleware == nil {
		slog.Warn("Audit logging skipped: audit middleware is not initialized")
		return
	}
	globalAuditMiddleware.LogAudit(r, resource, resourceID, status)
}

// extractActorInfoFromRequest resolves the acting identity: the
// authenticated user when present, otherwise gateway-injected headers
func extractActorInfoFromRequest(r *http.Request) (actorType string, actorID string) {
	if user, err := authutils.GetAuthenticatedUser(r.Context()); err == nil && user != nil {
		switch user.GetPrimaryRole() {
		case models.RoleAdmin:
			actorType = string(models.ActorTypeAdmin)
		case models.RoleSystem:
			actorType = string(models.ActorTypeSystem)
		default:
			actorType = string(models.ActorTypeMember)
		}
		return actorType, user.IdpUserID
	}

	actorID = r.Header.Get("X-User-ID")
	actorType = r.Header.Get("X-User-Role")
	if actorType == "" {
		actorType = string(models.ActorTypeMember)
	}
	return actorType, actorID
}

func isWriteOperation(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

func determineEventAction(method string) string {
	switch method {
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return ""
	}
}
