package services

import (
	"net/http"
	"testing"

	"github.com/gov-dx-sandbox/access-broker/v1/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupSQLiteTestDB creates an in-memory SQLite database for testing
func SetupSQLiteTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to SQLite test database: %v", err)
	}

	if err := db.AutoMigrate(&models.AccessRequest{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	CleanupTestData(t, db)

	return db
}

// CleanupTestData removes all test data from the database.
// Exported for use in handler tests.
func CleanupTestData(t *testing.T, db *gorm.DB) {
	if err := db.Exec("DELETE FROM requests").Error; err != nil {
		t.Logf("Warning: failed to cleanup requests: %v", err)
	}
}

// RequireTestDB sets up a test database and fails the test if the database
// cannot be established
func RequireTestDB(t *testing.T) *gorm.DB {
	db := SetupSQLiteTestDB(t)
	if db == nil {
		t.Fatal("Test database setup failed - cannot proceed with test")
	}
	return db
}

// RoundTripFunc allows stubbing http.Client transports in tests
type RoundTripFunc func(req *http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewMockHTTPClient returns an http.Client whose transport is the given stub
func NewMockHTTPClient(fn RoundTripFunc) *http.Client {
	return &http.Client{Transport: fn}
}
