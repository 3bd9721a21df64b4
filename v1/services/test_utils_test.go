package services

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gov-dx-sandbox/access-broker/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupSQLiteTestDB(t *testing.T) {
	db := RequireTestDB(t)

	request := &models.AccessRequest{
		RequestID: models.NewRequestID(),
		Username:  "alice",
		PolicyID:  "study.1_accessor",
		Status:    models.StatusSubmitted,
	}
	require.NoError(t, db.Create(request).Error)

	var count int64
	require.NoError(t, db.Model(&models.AccessRequest{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	CleanupTestData(t, db)
	require.NoError(t, db.Model(&models.AccessRequest{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestNewMockHTTPClient(t *testing.T) {
	client := NewMockHTTPClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
			Header:     make(http.Header),
		}, nil
	})

	resp, err := client.Get("http://example.invalid/anything")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
