package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"credvault/internal/domain"
)

// In-memory repositories backing the service tests.

type memCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]domain.VaultCredential

	updateErr error
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{creds: make(map[string]domain.VaultCredential)}
}

func (r *memCredentialRepo) Create(_ context.Context, cred domain.VaultCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[cred.ID]; ok {
		return fmt.Errorf("credential %s already exists", cred.ID)
	}
	r.creds[cred.ID] = cred
	return nil
}

func (r *memCredentialRepo) GetByID(_ context.Context, id string) (*domain.VaultCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return nil, fmt.Errorf("%w: credential %s", domain.ErrNotFound, id)
	}
	out := cred
	return &out, nil
}

func (r *memCredentialRepo) Update(_ context.Context, cred domain.VaultCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.creds[cred.ID]; !ok {
		return fmt.Errorf("%w: credential %s", domain.ErrNotFound, cred.ID)
	}
	r.creds[cred.ID] = cred
	return nil
}

func (r *memCredentialRepo) UpdateStatus(_ context.Context, id string, expect, next domain.CredentialStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return false, fmt.Errorf("%w: credential %s", domain.ErrNotFound, id)
	}
	if cred.Status != expect {
		return false, nil
	}
	cred.Status = next
	r.creds[id] = cred
	return true, nil
}

func (r *memCredentialRepo) ListByKeyID(_ context.Context, keyID string, limit int) ([]domain.VaultCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.VaultCredential, 0)
	for _, cred := range r.creds {
		if cred.EncryptedData.KeyID == keyID {
			out = append(out, cred)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCredentialRepo) CountByKeyID(_ context.Context, keyID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, cred := range r.creds {
		if cred.EncryptedData.KeyID == keyID {
			count++
		}
	}
	return count, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry

	appendErr error
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := make([]domain.AuditLogEntry, 0)
	for _, e := range r.entries {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultAuditLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *memAuditRepo) ListRange(_ context.Context, start, end time.Time) ([]domain.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditLogEntry, 0)
	for _, e := range r.entries {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memAuditRepo) all() []domain.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), r.entries...)
}

// fixedClock returns a Clock pinned to base plus any Advance calls.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(base time.Time) *fixedClock {
	return &fixedClock{now: base}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
