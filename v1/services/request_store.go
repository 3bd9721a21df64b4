package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/gov-dx-sandbox/access-broker/v1/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateRequestID is returned by Insert when the generated request id
// collides with an existing row. The caller retries the whole operation.
var ErrDuplicateRequestID = errors.New("request id already exists")

// RequestStore is the persistence layer for access requests
type RequestStore struct {
	db *gorm.DB
}

// NewRequestStore creates a new instance of RequestStore
func NewRequestStore(db *gorm.DB) *RequestStore {
	return &RequestStore{db: db}
}

// Transaction runs fn inside a database transaction
func (s *RequestStore) Transaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// Insert persists a new request. A primary-key collision maps to
// ErrDuplicateRequestID; other integrity failures surface as-is.
func (s *RequestStore) Insert(request *models.AccessRequest) error {
	if err := s.db.Create(request).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateRequestID
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// GetByID fetches a request by id, returning nil when absent
func (s *RequestStore) GetByID(id string) (*models.AccessRequest, error) {
	var request models.AccessRequest
	err := s.db.Where("request_id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %s: %w", id, err)
	}
	return &request, nil
}

// GetByIDForUpdate fetches a request under a row-level exclusive lock held
// until tx ends, serializing concurrent status transitions on the same id.
// The lock clause is applied only on dialects that support it.
func (s *RequestStore) GetByIDForUpdate(tx *gorm.DB, id string) (*models.AccessRequest, error) {
	query := tx.Where("request_id = ?", id)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var request models.AccessRequest
	err := query.First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %s for update: %w", id, err)
	}
	return &request, nil
}

// FindOpen returns all requests for the (username, policyID, revoke) triple
// whose status is not final
func (s *RequestStore) FindOpen(username, policyID string, revoke bool, finalStatuses []string) ([]models.AccessRequest, error) {
	var requests []models.AccessRequest
	query := s.db.Where("username = ? AND policy_id = ? AND revoke = ?", username, policyID, revoke)
	if len(finalStatuses) > 0 {
		query = query.Where("status NOT IN ?", finalStatuses)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to find open requests: %w", err)
	}
	return requests, nil
}

// List returns requests matching the filter, newest first
func (s *RequestStore) List(filter models.ListRequestsFilter) ([]models.AccessRequest, error) {
	query := s.db.Model(&models.AccessRequest{})
	if len(filter.Username) > 0 {
		query = query.Where("username IN ?", filter.Username)
	}
	if len(filter.PolicyID) > 0 {
		query = query.Where("policy_id IN ?", filter.PolicyID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status IN ?", filter.Status)
	}
	if len(filter.ExcludeStatuses) > 0 {
		query = query.Where("status NOT IN ?", filter.ExcludeStatuses)
	}
	if filter.Revoke != nil {
		query = query.Where("revoke = ?", *filter.Revoke)
	}
	if len(filter.ResourceID) > 0 {
		query = query.Where("resource_id IN ?", filter.ResourceID)
	}

	var requests []models.AccessRequest
	if err := query.Order("created_time DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// UpdateStatus persists a new status and updated time for the request
func (s *RequestStore) UpdateStatus(tx *gorm.DB, id string, status string, updatedTime time.Time) error {
	result := tx.Model(&models.AccessRequest{}).
		Where("request_id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":       status,
			"updated_time": updatedTime,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update request %s status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("request %s vanished during status update", id)
	}
	return nil
}

// Delete removes the request and returns its prior value, or nil when it
// did not exist
func (s *RequestStore) Delete(tx *gorm.DB, id string) (*models.AccessRequest, error) {
	var request models.AccessRequest
	err := tx.Where("request_id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %s for delete: %w", id, err)
	}

	if err := tx.Where("request_id = ?", id).Delete(&models.AccessRequest{}).Error; err != nil {
		return nil, fmt.Errorf("failed to delete request %s: %w", id, err)
	}
	return &request, nil
}

// DeleteByID removes the request outside a transaction, used by the create
// compensation path
func (s *RequestStore) DeleteByID(id string) (*models.AccessRequest, error) {
	return s.Delete(s.db, id)
}
