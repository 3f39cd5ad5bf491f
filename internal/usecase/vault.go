package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credvault/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VaultService is the only surface exposed to external collaborators. Every
// operation evaluates access control, touches the repository, and records an
// audit entry for the outcome, permitted or not.
type VaultService struct {
	creds  CredentialRepository
	enc    *EncryptionService
	access *AccessControlService
	audit  *AuditLogger
	clock  Clock
	log    *zap.Logger
}

func NewVaultService(creds CredentialRepository, enc *EncryptionService, access *AccessControlService, audit *AuditLogger, clock Clock, logger *zap.Logger) *VaultService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaultService{
		creds:  creds,
		enc:    enc,
		access: access,
		audit:  audit,
		clock:  clock,
		log:    logger,
	}
}

// Create encrypts the secret payload and persists a new credential. The
// creator is always on the user allow-list.
func (s *VaultService) Create(ctx context.Context, actx domain.AccessContext, input domain.CredentialInput) (*domain.VaultCredential, error) {
	if input.Name == "" {
		return nil, domain.NewValidationError("name", "must not be empty")
	}
	if input.Type == "" {
		return nil, domain.NewValidationError("type", "must not be empty")
	}
	if len(input.Data) == 0 {
		return nil, domain.NewValidationError("data", "must not be empty")
	}

	plaintext, err := json.Marshal(input.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding credential data: %w", err)
	}
	envelope, err := s.enc.Encrypt(string(plaintext))
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	cred := domain.VaultCredential{
		ID:               uuid.NewString(),
		Name:             input.Name,
		Type:             input.Type,
		IntegrationID:    input.IntegrationID,
		EncryptedData:    envelope,
		AllowedUsers:     withUser(input.AllowedUsers, actx.UserID),
		AllowedRoles:     append([]string(nil), input.AllowedRoles...),
		ExpiresAt:        input.ExpiresAt,
		RotationSchedule: input.RotationSchedule,
		Status:           domain.CredentialStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        actx.UserID,
	}
	if err := s.creds.Create(ctx, cred); err != nil {
		return nil, err
	}

	s.audit.LogCreate(ctx, actx, cred.ID, domain.AuditDetails{
		CredentialName: cred.Name,
		IntegrationID:  cred.IntegrationID,
		Metadata:       map[string]any{"type": string(cred.Type)},
	})
	return &cred, nil
}

// Retrieve decrypts a credential for an authorized requester. The decrypted
// form is bounded to this call and never persisted or logged.
func (s *VaultService) Retrieve(ctx context.Context, actx domain.AccessContext, id string) (*domain.DecryptedCredential, error) {
	cred, err := s.getForAction(ctx, actx, id, domain.ActionRetrieve)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.enc.Decrypt(cred.EncryptedData)
	if err != nil {
		s.audit.Log(ctx, actx, domain.ActionRetrieve, cred.ID, false, domain.AuditDetails{
			CredentialName: cred.Name,
			Reason:         "decrypt failed",
		})
		return nil, err
	}
	var data domain.CredentialData
	if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
		return nil, fmt.Errorf("decoding credential data: %w", err)
	}

	now := s.clock().UTC()
	cred.LastAccessedAt = &now
	cred.LastAccessedBy = actx.UserID
	if err := s.creds.Update(ctx, *cred); err != nil {
		s.log.Warn("recording last access failed", zap.String("credential_id", cred.ID), zap.Error(err))
	}

	s.audit.LogRetrieve(ctx, actx, cred.ID, domain.AuditDetails{
		CredentialName: cred.Name,
		IntegrationID:  cred.IntegrationID,
	})
	return &domain.DecryptedCredential{
		ID:        cred.ID,
		Name:      cred.Name,
		Type:      cred.Type,
		Data:      data,
		ExpiresAt: cred.ExpiresAt,
	}, nil
}

// Update applies partial changes to a credential, re-encrypting the secret
// payload when it changed.
func (s *VaultService) Update(ctx context.Context, actx domain.AccessContext, id string, upd domain.CredentialUpdate) (*domain.VaultCredential, error) {
	cred, err := s.getForAction(ctx, actx, id, domain.ActionUpdate)
	if err != nil {
		return nil, err
	}

	changed := make(map[string]any)
	if upd.Name != nil {
		cred.Name = *upd.Name
		changed["name"] = *upd.Name
	}
	if upd.Data != nil {
		plaintext, err := json.Marshal(*upd.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding credential data: %w", err)
		}
		envelope, err := s.enc.Encrypt(string(plaintext))
		if err != nil {
			return nil, err
		}
		cred.EncryptedData = envelope
		changed["data"] = true
	}
	if upd.AllowedUsers != nil {
		cred.AllowedUsers = append([]string(nil), (*upd.AllowedUsers)...)
		changed["allowedUsers"] = true
	}
	if upd.AllowedRoles != nil {
		cred.AllowedRoles = append([]string(nil), (*upd.AllowedRoles)...)
		changed["allowedRoles"] = true
	}
	if upd.ExpiresAt != nil {
		cred.ExpiresAt = upd.ExpiresAt
		changed["expiresAt"] = upd.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if upd.RotationSchedule != nil {
		cred.RotationSchedule = *upd.RotationSchedule
		changed["rotationSchedule"] = upd.RotationSchedule.String()
	}

	cred.UpdatedAt = s.clock().UTC()
	if err := s.creds.Update(ctx, *cred); err != nil {
		return nil, err
	}

	s.audit.LogUpdate(ctx, actx, cred.ID, domain.AuditDetails{
		CredentialName: cred.Name,
		IntegrationID:  cred.IntegrationID,
		Metadata:       map[string]any{"changed": changed},
	})
	return cred, nil
}

// Rotate re-encrypts the credential's payload under the current key. The
// record passes through the rotating status so a concurrent rotation fails
// with ErrRotationInProgress, and cancellation mid-flight leaves the stored
// envelope untouched and decryptable.
func (s *VaultService) Rotate(ctx context.Context, actx domain.AccessContext, id string) (*domain.EncryptedEnvelope, error) {
	cred, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.Status == domain.CredentialStatusRotating {
		return nil, fmt.Errorf("%w: credential %s", domain.ErrRotationInProgress, id)
	}
	if decision := s.access.Authorize(ctx, actx, *cred, domain.ActionRotate); !decision.Allowed {
		s.audit.LogAccessDenied(ctx, actx, cred.ID, decision.Reason, domain.AuditDetails{CredentialName: cred.Name})
		return nil, &domain.AccessDeniedError{Reason: decision.Reason}
	}

	prior := cred.Status
	moved, err := s.creds.UpdateStatus(ctx, cred.ID, prior, domain.CredentialStatusRotating)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("%w: credential %s", domain.ErrRotationInProgress, id)
	}

	previousKeyID := cred.EncryptedData.KeyID
	envelope, err := s.enc.ReEncrypt(cred.EncryptedData)
	if err != nil {
		if _, revertErr := s.creds.UpdateStatus(ctx, cred.ID, domain.CredentialStatusRotating, prior); revertErr != nil {
			s.log.Error("reverting rotation status failed", zap.String("credential_id", cred.ID), zap.Error(revertErr))
		}
		s.audit.Log(ctx, actx, domain.ActionRotate, cred.ID, false, domain.AuditDetails{
			CredentialName: cred.Name,
			Reason:         "re-encryption failed",
		})
		return nil, err
	}

	now := s.clock().UTC()
	cred.EncryptedData = envelope
	cred.LastRotated = &now
	cred.RotationCount++
	cred.Status = domain.CredentialStatusActive
	cred.UpdatedAt = now
	if err := s.creds.Update(ctx, *cred); err != nil {
		return nil, err
	}

	s.audit.LogRotate(ctx, actx, cred.ID, domain.AuditDetails{
		CredentialName: cred.Name,
		Metadata: map[string]any{
			"keyId":         envelope.KeyID,
			"previousKeyId": previousKeyID,
		},
	})
	return &envelope, nil
}

// RotateIfDue rotates a credential whose rotation schedule has elapsed.
func (s *VaultService) RotateIfDue(ctx context.Context, actx domain.AccessContext, id string) (bool, *domain.EncryptedEnvelope, error) {
	cred, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if cred.RotationSchedule <= 0 {
		return false, nil, nil
	}
	base := cred.CreatedAt
	if cred.LastRotated != nil {
		base = *cred.LastRotated
	}
	if s.clock().Sub(base) < cred.RotationSchedule {
		return false, nil, nil
	}
	envelope, err := s.Rotate(ctx, actx, id)
	if err != nil {
		return false, nil, err
	}
	return true, envelope, nil
}

// Revoke marks a credential revoked. The record and its audit history are
// preserved; nothing is deleted.
func (s *VaultService) Revoke(ctx context.Context, actx domain.AccessContext, id, reason string) error {
	cred, err := s.getForAction(ctx, actx, id, domain.ActionRevoke)
	if err != nil {
		return err
	}

	cred.Status = domain.CredentialStatusRevoked
	cred.UpdatedAt = s.clock().UTC()
	if err := s.creds.Update(ctx, *cred); err != nil {
		return err
	}

	s.audit.LogRevoke(ctx, actx, cred.ID, domain.AuditDetails{
		CredentialName: cred.Name,
		Reason:         reason,
	})
	return nil
}

// ListAuditLogs exposes the audit trail to administrative tooling.
func (s *VaultService) ListAuditLogs(ctx context.Context, actx domain.AccessContext, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	if actx.UserRole != domain.RoleAdmin {
		reason := "admin role required"
		s.audit.LogAccessDenied(ctx, actx, filter.CredentialID, reason, domain.AuditDetails{})
		return nil, &domain.AccessDeniedError{Reason: reason}
	}
	return s.audit.GetLogs(ctx, filter)
}

// getForAction loads a credential and authorizes the action, auditing every
// denial.
func (s *VaultService) getForAction(ctx context.Context, actx domain.AccessContext, id string, action domain.Action) (*domain.VaultCredential, error) {
	cred, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	decision := s.access.Authorize(ctx, actx, *cred, action)
	if !decision.Allowed {
		s.audit.LogAccessDenied(ctx, actx, cred.ID, decision.Reason, domain.AuditDetails{
			CredentialName: cred.Name,
			Metadata:       map[string]any{"requestedAction": string(action)},
		})
		return nil, &domain.AccessDeniedError{Reason: decision.Reason}
	}
	return cred, nil
}

func withUser(users []string, userID string) []string {
	out := append([]string(nil), users...)
	if userID == "" {
		return out
	}
	for _, id := range out {
		if id == userID {
			return out
		}
	}
	return append(out, userID)
}
