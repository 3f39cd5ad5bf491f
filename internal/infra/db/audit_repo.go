package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"credvault/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLogRepository is the durable append-only audit store. Rows are never
// updated or deleted.
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Action == "" {
		return errors.New("action is required")
	}

	model, err := auditModelFromDomain(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AuditLogRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).Model(&AuditLogModel{})
	if filter.CredentialID != "" {
		query = query.Where("credential_id = ?", filter.CredentialID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != nil {
		query = query.Where("action = ?", string(*filter.Action))
	}
	if filter.Success != nil {
		query = query.Where("success = ?", *filter.Success)
	}
	if filter.StartDate != nil {
		query = query.Where("timestamp >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		query = query.Where("timestamp <= ?", filter.EndDate.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultAuditLimit
	}
	var models []AuditLogModel
	if err := query.Order("timestamp DESC").Offset(filter.Offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return auditEntriesFromModels(models)
}

func (r *AuditLogRepository) ListRange(ctx context.Context, start, end time.Time) ([]domain.AuditLogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditLogModel
	if err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", start.UTC(), end.UTC()).
		Order("timestamp DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return auditEntriesFromModels(models)
}

func auditEntriesFromModels(models []AuditLogModel) ([]domain.AuditLogEntry, error) {
	out := make([]domain.AuditLogEntry, 0, len(models))
	for _, model := range models {
		entry, err := auditEntryFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func auditModelFromDomain(entry domain.AuditLogEntry) (AuditLogModel, error) {
	var metadata []byte
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return AuditLogModel{}, err
		}
		metadata = encoded
	}
	return AuditLogModel{
		ID:             entry.ID,
		CredentialID:   entry.CredentialID,
		UserID:         entry.UserID,
		Action:         string(entry.Action),
		Success:        entry.Success,
		IPAddress:      stringPtrIfNotEmpty(entry.IPAddress),
		UserAgent:      stringPtrIfNotEmpty(entry.UserAgent),
		Reason:         stringPtrIfNotEmpty(entry.Reason),
		Timestamp:      entry.Timestamp.UTC().Truncate(time.Microsecond),
		CredentialName: stringPtrIfNotEmpty(entry.CredentialName),
		IntegrationID:  stringPtrIfNotEmpty(entry.IntegrationID),
		MetadataJSON:   metadata,
	}, nil
}

func auditEntryFromModel(model AuditLogModel) (domain.AuditLogEntry, error) {
	var metadata map[string]any
	if len(model.MetadataJSON) > 0 {
		if err := json.Unmarshal(model.MetadataJSON, &metadata); err != nil {
			return domain.AuditLogEntry{}, err
		}
	}
	return domain.AuditLogEntry{
		ID:             model.ID,
		CredentialID:   model.CredentialID,
		UserID:         model.UserID,
		Action:         domain.Action(model.Action),
		Success:        model.Success,
		IPAddress:      stringValue(model.IPAddress),
		UserAgent:      stringValue(model.UserAgent),
		Reason:         stringValue(model.Reason),
		Timestamp:      model.Timestamp.UTC(),
		CredentialName: stringValue(model.CredentialName),
		IntegrationID:  stringValue(model.IntegrationID),
		Metadata:       metadata,
	}, nil
}
