package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// AuditLogsEndpoint is the API endpoint for creating audit logs
	AuditLogsEndpoint = "/api/events"
	// DefaultHTTPTimeout is the default timeout for HTTP requests to the audit service
	DefaultHTTPTimeout = 10 * time.Second
)

// Client is a client for sending audit events to the audit service
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewClient creates a new audit client
// Audit can be disabled by:
//   - Setting ENABLE_AUDIT=false environment variable
//   - Providing an empty baseURL
//
// When disabled, all LogEvent calls will be no-ops.
func NewClient(baseURL string) *Client {
	enabled := isAuditEnabled(baseURL)

	if !enabled {
		slog.Info("Audit client disabled",
			"reason", "ENABLE_AUDIT=false or audit service URL not configured",
			"impact", "Service will continue running but audit events will not be logged")
		return &Client{enabled: false}
	}

	slog.Info("Audit client initialized", "baseURL", baseURL)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		enabled: true,
	}
}

// NewClientWith creates an audit client that reuses an existing HTTP client.
// An empty baseURL disables the client.
func NewClientWith(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" || httpClient == nil {
		return &Client{enabled: false}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		enabled:    isAuditEnabled(baseURL),
	}
}

// IsEnabled returns whether the audit client is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// LogEvent sends an audit event to the audit service asynchronously (fire-and-forget).
// Uses a background context so the event is delivered even if the caller's
// context is cancelled.
func (c *Client) LogEvent(ctx context.Context, event *AuditLogRequest) {
	if !c.enabled || c.httpClient == nil {
		return
	}
	go c.logEvent(context.Background(), event)
}

// logEvent sends the audit event to the audit service API
func (c *Client) logEvent(ctx context.Context, event *AuditLogRequest) {
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal audit request", "error", err)
		return
	}

	endpointURL, err := url.JoinPath(c.baseURL, AuditLogsEndpoint)
	if err != nil {
		slog.Error("Failed to construct audit service URL", "error", err, "baseURL", c.baseURL)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payloadBytes))
	if err != nil {
		slog.Error("Failed to create audit request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send audit request", "error", err)
		return
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("Failed to close audit response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			slog.Error("Audit service returned non-201 status and failed to read body",
				"status", resp.StatusCode, "readError", readErr)
		} else {
			slog.Error("Audit service returned non-201 status",
				"status", resp.StatusCode, "body", string(bodyBytes))
		}
	}
}

// MarshalMetadata safely marshals metadata to json.RawMessage.
// Returns empty JSON object "{}" on error to ensure valid JSON.
// Returns nil if metadata is nil.
func MarshalMetadata(metadata map[string]interface{}) json.RawMessage {
	if metadata == nil {
		return nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		slog.Error("Failed to marshal metadata for audit", "error", err)
		return json.RawMessage("{}")
	}
	return json.RawMessage(bytes)
}

// CurrentTimestamp returns current UTC time in RFC3339 format.
func CurrentTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// isAuditEnabled checks if audit logging is enabled.
// Audit is enabled by default unless explicitly disabled via ENABLE_AUDIT=false
// or if baseURL is empty.
func isAuditEnabled(baseURL string) bool {
	if baseURL == "" {
		return false
	}

	enableAudit := os.Getenv("ENABLE_AUDIT")
	if enableAudit == "" {
		return true
	}

	enableAuditLower := strings.ToLower(strings.TrimSpace(enableAudit))
	return enableAuditLower == "true" || enableAuditLower == "1" || enableAuditLower == "yes"
}
