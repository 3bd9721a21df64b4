package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gov-dx-sandbox/access-broker/v1/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ActionService runs the post-transition actions configured for status
// changes: outbound HTTP calls and client-side redirect URLs. It holds no
// state beyond its configuration and is safe for concurrent use.
type ActionService struct {
	actions config.ActionConfig
	// HTTPClient is used for external calls and token acquisition
	HTTPClient *http.Client

	maxAttempts int
	baseDelay   time.Duration
}

// NewActionService creates a new instance of ActionService
func NewActionService(actions config.ActionConfig) *ActionService {
	return &ActionService{
		actions:     actions,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

// BuildRedirectURL resolves the redirect action with the given id against
// the request data. The configured URL keeps its existing query string; one
// parameter is appended per configured field whose value is non-empty.
func (s *ActionService) BuildRedirectURL(redirectID string, data map[string]string) (string, error) {
	cfg, ok := s.actions.Redirects[redirectID]
	if !ok {
		return "", fmt.Errorf("redirect config %q not found", redirectID)
	}

	parsed, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL for %q: %w", redirectID, err)
	}

	query := parsed.Query()
	for _, field := range cfg.Params {
		if value := data[field]; value != "" {
			query.Set(field, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// InvokeExternalCall performs the configured outbound call with the request
// data mapped into a form body, retrying with exponential backoff. A non-2xx
// response after the final attempt fails the call.
func (s *ActionService) InvokeExternalCall(callID string, data map[string]string) error {
	cfg, ok := s.actions.ExternalCalls[callID]
	if !ok {
		return fmt.Errorf("external call config %q not found", callID)
	}

	form := url.Values{}
	for _, field := range cfg.Form {
		if value := data[field.Name]; value != "" {
			form.Set(field.Param, value)
		}
	}

	token, err := s.acquireToken(cfg.CredentialsID)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base delay doubled for each retry
			time.Sleep(s.baseDelay * time.Duration(1<<(attempt-1)))
		}

		lastErr = s.callOnce(cfg, form, token)
		if lastErr == nil {
			return nil
		}
		slog.Warn("external call failed, will retry",
			"callId", callID,
			"attempt", attempt+1,
			"maxAttempts", s.maxAttempts,
			"error", lastErr)
	}
	return fmt.Errorf("external call %q failed after %d attempts: %w", callID, s.maxAttempts, lastErr)
}

func (s *ActionService) callOnce(cfg config.ExternalCallConfig, form url.Values, token string) error {
	req, err := http.NewRequest(cfg.Method, cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("call returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// acquireToken runs the client-credentials exchange for the named
// credentials, or returns an empty token when the call is unauthenticated
func (s *ActionService) acquireToken(credentialsID string) (string, error) {
	if credentialsID == "" {
		return "", nil
	}
	creds, ok := s.actions.Credentials[credentialsID]
	if !ok {
		return "", fmt.Errorf("credentials %q not found", credentialsID)
	}

	oauthConfig := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
	}

	// Actions run detached from the inbound request; token acquisition must
	// not be cancelled by a client disconnect.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.HTTPClient)
	token, err := oauthConfig.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire token for %q: %w", credentialsID, err)
	}
	return token.AccessToken, nil
}

// Dispatch runs all actions bound to status for any matching resource path
// prefix rule. For each rule the first matching path wins. External calls
// complete (or fail the whole dispatch) before the single collected redirect
// is resolved; the redirect URL, if any, is returned.
func (s *ActionService) Dispatch(status string, data map[string]string, resourcePaths []string) (string, error) {
	var redirectID string

	for prefix, byStatus := range s.actions.OnUpdate {
		actions, ok := byStatus[status]
		if !ok {
			continue
		}

		matched := false
		for _, resourcePath := range resourcePaths {
			if IsPathPrefixOf(prefix, resourcePath) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		for _, callID := range actions.ExternalCalls {
			if err := s.InvokeExternalCall(callID, data); err != nil {
				return "", err
			}
		}
		if len(actions.Redirects) > 0 && redirectID == "" {
			redirectID = actions.Redirects[0]
		}
	}

	if redirectID == "" {
		return "", nil
	}
	return s.BuildRedirectURL(redirectID, data)
}
