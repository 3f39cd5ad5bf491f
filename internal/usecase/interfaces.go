package usecase

import (
	"context"
	"time"

	"credvault/internal/domain"
)

type Clock func() time.Time

// CredentialRepository is the transactional record store backing the vault.
// The vault assumes atomicity of a single credential's read-modify-write.
type CredentialRepository interface {
	Create(ctx context.Context, cred domain.VaultCredential) error
	GetByID(ctx context.Context, id string) (*domain.VaultCredential, error)
	Update(ctx context.Context, cred domain.VaultCredential) error
	// UpdateStatus transitions status only when the stored status matches
	// expect, and reports whether the transition happened.
	UpdateStatus(ctx context.Context, id string, expect, next domain.CredentialStatus) (bool, error)
	ListByKeyID(ctx context.Context, keyID string, limit int) ([]domain.VaultCredential, error)
	CountByKeyID(ctx context.Context, keyID string) (int64, error)
}

// AuditLogRepository is the durable append-only log. List returns entries
// matching the filter, newest first, paginated.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error)
	ListRange(ctx context.Context, start, end time.Time) ([]domain.AuditLogEntry, error)
}

// PolicyEngine can veto an access decision the allow-lists would permit.
// Evaluation is in-process and performs no I/O.
type PolicyEngine interface {
	Evaluate(ctx context.Context, query domain.AccessQuery) (domain.PolicyDecision, error)
}
