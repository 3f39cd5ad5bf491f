package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credvault/internal/domain"

	"go.uber.org/zap"
)

const defaultSweepPageSize = 100

// SweepResult reports one run of a re-encryption sweep.
type SweepResult struct {
	KeyID     string
	Migrated  int
	Remaining int64
	Retired   bool
}

// ReencryptionSweep migrates every stored envelope off a retiring key and, at
// zero remaining references, retires the key material. It paginates the
// credential store, writes each envelope back fully formed, and is safe to
// cancel or re-run at any point: an interrupted run leaves every credential
// either on the old key or completely on the new one.
type ReencryptionSweep struct {
	creds    CredentialRepository
	enc      *EncryptionService
	clock    Clock
	log      *zap.Logger
	PageSize int
}

func NewReencryptionSweep(creds CredentialRepository, enc *EncryptionService, clock Clock, logger *zap.Logger) *ReencryptionSweep {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReencryptionSweep{
		creds:    creds,
		enc:      enc,
		clock:    clock,
		log:      logger,
		PageSize: defaultSweepPageSize,
	}
}

// Run migrates envelopes referencing keyID. Retirement happens only after a
// recount confirms zero remaining references.
func (s *ReencryptionSweep) Run(ctx context.Context, keyID string) (SweepResult, error) {
	if keyID == "" {
		return SweepResult{}, domain.NewValidationError("keyId", "must not be empty")
	}
	if keyID == s.enc.CurrentKeyID() {
		return SweepResult{}, errors.New("cannot sweep the current key")
	}

	result := SweepResult{KeyID: keyID}
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}

	for {
		page, err := s.creds.ListByKeyID(ctx, keyID, pageSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		migratedInPage := 0
		for _, cred := range page {
			if err := ctx.Err(); err != nil {
				result.Remaining, _ = s.creds.CountByKeyID(context.Background(), keyID)
				return result, err
			}
			if err := s.migrate(ctx, cred); err != nil {
				// Revoked or otherwise undecryptable records are left in
				// place; they keep the old key pinned until resolved.
				s.log.Warn("sweep migration failed",
					zap.String("credential_id", cred.ID),
					zap.String("key_id", keyID),
					zap.Error(err))
				continue
			}
			result.Migrated++
			migratedInPage++
		}
		if migratedInPage == 0 {
			break
		}
	}

	remaining, err := s.creds.CountByKeyID(ctx, keyID)
	if err != nil {
		return result, err
	}
	result.Remaining = remaining
	if remaining > 0 {
		return result, nil
	}

	if err := s.enc.RetireKey(keyID); err != nil {
		return result, fmt.Errorf("retiring key %s: %w", keyID, err)
	}
	result.Retired = true
	return result, nil
}

// migrate re-encrypts a single credential in place. The repository write is
// the commit point; the record is never observable half-rotated.
func (s *ReencryptionSweep) migrate(ctx context.Context, cred domain.VaultCredential) error {
	envelope, err := s.enc.ReEncrypt(cred.EncryptedData)
	if err != nil {
		return err
	}
	cred.EncryptedData = envelope
	cred.UpdatedAt = s.clock().UTC()
	return s.creds.Update(ctx, cred)
}
