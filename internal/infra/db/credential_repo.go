package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credvault/internal/domain"

	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, cred domain.VaultCredential) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := credentialModelFromDomain(cred)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*domain.VaultCredential, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model CredentialModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: credential %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	cred, err := credentialFromModel(model)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *CredentialRepository) Update(ctx context.Context, cred domain.VaultCredential) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := credentialModelFromDomain(cred)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", cred.ID).Select("*").Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: credential %s", domain.ErrNotFound, cred.ID)
	}
	return nil
}

func (r *CredentialRepository) UpdateStatus(ctx context.Context, id string, expect, next domain.CredentialStatus) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	result := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("id = ? AND status = ?", id, string(expect)).
		Update("status", string(next))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *CredentialRepository) ListByKeyID(ctx context.Context, keyID string, limit int) ([]domain.VaultCredential, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CredentialModel
	query := r.db.WithContext(ctx).Where("key_id = ?", keyID).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.VaultCredential, 0, len(models))
	for _, model := range models {
		cred, err := credentialFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func (r *CredentialRepository) CountByKeyID(ctx context.Context, keyID string) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&CredentialModel{}).Where("key_id = ?", keyID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func credentialModelFromDomain(cred domain.VaultCredential) (CredentialModel, error) {
	users, err := json.Marshal(cred.AllowedUsers)
	if err != nil {
		return CredentialModel{}, err
	}
	roles, err := json.Marshal(cred.AllowedRoles)
	if err != nil {
		return CredentialModel{}, err
	}
	return CredentialModel{
		ID:               cred.ID,
		Name:             cred.Name,
		Type:             string(cred.Type),
		IntegrationID:    stringPtrIfNotEmpty(cred.IntegrationID),
		Ciphertext:       cred.EncryptedData.Ciphertext,
		IV:               cred.EncryptedData.IV,
		AuthTag:          cred.EncryptedData.AuthTag,
		KeyID:            cred.EncryptedData.KeyID,
		Algorithm:        cred.EncryptedData.Algorithm,
		Version:          cred.EncryptedData.Version,
		AllowedUsersJSON: users,
		AllowedRolesJSON: roles,
		ExpiresAt:        cred.ExpiresAt,
		RotationSchedule: int64(cred.RotationSchedule / time.Second),
		LastRotated:      cred.LastRotated,
		RotationCount:    cred.RotationCount,
		Status:           string(cred.Status),
		CreatedAt:        cred.CreatedAt.UTC(),
		UpdatedAt:        cred.UpdatedAt.UTC(),
		CreatedBy:        cred.CreatedBy,
		LastAccessedAt:   cred.LastAccessedAt,
		LastAccessedBy:   stringPtrIfNotEmpty(cred.LastAccessedBy),
	}, nil
}

func credentialFromModel(model CredentialModel) (domain.VaultCredential, error) {
	var users, roles []string
	if len(model.AllowedUsersJSON) > 0 {
		if err := json.Unmarshal(model.AllowedUsersJSON, &users); err != nil {
			return domain.VaultCredential{}, err
		}
	}
	if len(model.AllowedRolesJSON) > 0 {
		if err := json.Unmarshal(model.AllowedRolesJSON, &roles); err != nil {
			return domain.VaultCredential{}, err
		}
	}
	return domain.VaultCredential{
		ID:            model.ID,
		Name:          model.Name,
		Type:          domain.CredentialType(model.Type),
		IntegrationID: stringValue(model.IntegrationID),
		EncryptedData: domain.EncryptedEnvelope{
			Ciphertext: model.Ciphertext,
			IV:         model.IV,
			AuthTag:    model.AuthTag,
			KeyID:      model.KeyID,
			Algorithm:  model.Algorithm,
			Version:    model.Version,
		},
		AllowedUsers:     users,
		AllowedRoles:     roles,
		ExpiresAt:        model.ExpiresAt,
		RotationSchedule: time.Duration(model.RotationSchedule) * time.Second,
		LastRotated:      model.LastRotated,
		RotationCount:    model.RotationCount,
		Status:           domain.CredentialStatus(model.Status),
		CreatedAt:        model.CreatedAt.UTC(),
		UpdatedAt:        model.UpdatedAt.UTC(),
		CreatedBy:        model.CreatedBy,
		LastAccessedAt:   model.LastAccessedAt,
		LastAccessedBy:   stringValue(model.LastAccessedBy),
	}, nil
}

func stringPtrIfNotEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
