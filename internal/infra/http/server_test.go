package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"credvault/internal/config"
	"credvault/internal/domain"
	"credvault/internal/infra/ratelimit"
	"credvault/internal/usecase"
)

type memCredRepo struct {
	mu    sync.Mutex
	creds map[string]domain.VaultCredential
}

func newMemCredRepo() *memCredRepo {
	return &memCredRepo{creds: make(map[string]domain.VaultCredential)}
}

func (r *memCredRepo) Create(_ context.Context, cred domain.VaultCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.ID] = cred
	return nil
}

func (r *memCredRepo) GetByID(_ context.Context, id string) (*domain.VaultCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return nil, fmt.Errorf("%w: credential %s", domain.ErrNotFound, id)
	}
	out := cred
	return &out, nil
}

func (r *memCredRepo) Update(_ context.Context, cred domain.VaultCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.ID] = cred
	return nil
}

func (r *memCredRepo) UpdateStatus(_ context.Context, id string, expect, next domain.CredentialStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok || cred.Status != expect {
		return false, nil
	}
	cred.Status = next
	r.creds[id] = cred
	return true, nil
}

func (r *memCredRepo) ListByKeyID(_ context.Context, keyID string, limit int) ([]domain.VaultCredential, error) {
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

func (r *memCredRepo) CountByKeyID(_ context.Context, keyID string) (int64, error) {
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
}

func (r *memAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditLogEntry, 0)
	for _, e := range r.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *memAuditRepo) ListRange(_ context.Context, start, end time.Time) ([]domain.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditLogEntry, 0)
	for _, e := range r.entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	enc, err := usecase.NewEncryptionService("test-key", nil)
	if err != nil {
		t.Fatalf("new encryption service: %v", err)
	}
	creds := newMemCredRepo()
	auditRepo := &memAuditRepo{}
	audit := usecase.NewAuditLogger(auditRepo, nil, nil, 0)
	access := usecase.NewAccessControlService(nil, nil)
	vault := usecase.NewVaultService(creds, enc, access, audit, nil, nil)
	sweep := usecase.NewReencryptionSweep(creds, enc, nil, nil)

	var limiter domain.RateLimiter
	if cfg.RateLimitRequests > 0 {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}
	return NewServer(cfg, ServerDeps{
		Vault:       vault,
		Encryption:  enc,
		Audit:       audit,
		Sweep:       sweep,
		RateLimiter: limiter,
	})
}

func doRequest(t *testing.T, srv *Server, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

var ownerHeaders = map[string]string{
	"X-User-ID":   "user-1",
	"X-User-Role": "ops",
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestWithoutIdentityHeaders(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/credentials/cred-1", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateRetrieveFlow(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/credentials", ownerHeaders, map[string]any{
		"name": "ci token",
		"type": "api_key",
		"data": map[string]string{"token": "tok-123"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created credentialResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != "active" {
		t.Fatalf("unexpected create response %+v", created)
	}
	if created.KeyID == "" {
		t.Fatalf("expected key id in response")
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/"+created.ID, ownerHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d: %s", rec.Code, rec.Body.String())
	}
	var retrieved retrieveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &retrieved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if retrieved.Data["token"] != "tok-123" {
		t.Fatalf("unexpected data %+v", retrieved.Data)
	}
}

func TestRetrieveDeniedAndMissing(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/credentials", ownerHeaders, map[string]any{
		"name": "ci token",
		"type": "api_key",
		"data": map[string]string{"token": "tok-123"},
	})
	var created credentialResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	stranger := map[string]string{"X-User-ID": "user-9", "X-User-Role": "dev"}
	rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/"+created.ID, stranger, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/missing", ownerHeaders, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateValidationStatus(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/credentials", ownerHeaders, map[string]any{
		"type": "api_key",
		"data": map[string]string{"token": "tok-123"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestRevokeAndConflictStatuses(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/credentials", ownerHeaders, map[string]any{
		"name": "db password",
		"type": "basic_auth",
		"data": map[string]string{"password": "hunter2"},
	})
	var created credentialResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/credentials/"+created.ID+"/revoke", ownerHeaders, map[string]any{"reason": "leaked"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/"+created.ID, ownerHeaders, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("revoked retrieve status = %d, want 403", rec.Code)
	}
}

func TestAuditEndpointsRequireAdmin(t *testing.T) {
	srv := newTestServer(t, config.Config{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/audit-logs", ownerHeaders, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("audit-logs status = %d, want 403", rec.Code)
	}

	adminHeaders := map[string]string{"X-User-ID": "root-1", "X-User-Role": "admin"}
	rec = doRequest(t, srv, http.MethodGet, "/v1/audit-logs", adminHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin audit-logs status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/keys", ownerHeaders, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("keys status = %d, want 403", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/v1/keys", adminHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin keys status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v1/audit-logs/recent", adminHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recent status = %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/v1/audit-report?start=2000-01-01T00:00:00Z&end=2100-01-01T00:00:00Z", adminHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d: %s", rec.Code, rec.Body.String())
	}
	var report domain.AuditReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	// Both denied non-admin requests above are themselves audited.
	if report.TotalOperations != 2 || report.AccessDeniedCount != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAdminDenialsAreAudited(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	adminHeaders := map[string]string{"X-User-ID": "root-1", "X-User-Role": "admin"}

	denied := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/v1/audit-logs/recent", nil},
		{http.MethodGet, "/v1/audit-report?start=2000-01-01T00:00:00Z&end=2100-01-01T00:00:00Z", nil},
		{http.MethodGet, "/v1/keys", nil},
		{http.MethodPost, "/v1/keys/rotate", map[string]any{"new_master_secret": "next"}},
	}
	for _, req := range denied {
		rec := doRequest(t, srv, req.method, req.path, ownerHeaders, req.body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s status = %d, want 403", req.method, req.path, rec.Code)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/v1/audit-logs", adminHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit-logs status = %d", rec.Code)
	}
	var listing struct {
		Entries []domain.AuditLogEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Entries) != len(denied) {
		t.Fatalf("expected %d audited denials, got %d", len(denied), len(listing.Entries))
	}
	for i, entry := range listing.Entries {
		if entry.Action != domain.ActionAccessDenied || entry.Success {
			t.Fatalf("entry %d: %+v", i, entry)
		}
		if entry.UserID != "user-1" || entry.Reason != "admin role required" {
			t.Fatalf("entry %d incomplete: %+v", i, entry)
		}
	}
}

func TestMasterKeyRotationEndpoint(t *testing.T) {
	srv := newTestServer(t, config.Config{})
	adminHeaders := map[string]string{"X-User-ID": "root-1", "X-User-Role": "admin"}

	rec := doRequest(t, srv, http.MethodPost, "/v1/credentials", ownerHeaders, map[string]any{
		"name": "ci token",
		"type": "api_key",
		"data": map[string]string{"token": "tok-123"},
	})
	var created credentialResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/keys/rotate", ownerHeaders, map[string]any{"new_master_secret": "next"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin rotation status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/v1/keys/rotate", adminHeaders, map[string]any{"new_master_secret": "new-master-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rotation status = %d: %s", rec.Code, rec.Body.String())
	}
	var rotated rotateMasterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rotated.Migrated != 1 || rotated.Remaining != 0 || !rotated.Retired {
		t.Fatalf("unexpected rotation result %+v", rotated)
	}
	if rotated.KeyID == rotated.PreviousKeyID {
		t.Fatalf("expected a new key id")
	}

	// The credential still decrypts after the sweep.
	rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/"+created.ID, ownerHeaders, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve after rotation status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRetrieveRateLimited(t *testing.T) {
	srv := newTestServer(t, config.Config{RateLimitRequests: 2, RateLimitWindowSeconds: 60})

	rec := doRequest(t, srv, http.MethodPost, "/v1/credentials", ownerHeaders, map[string]any{
		"name": "ci token",
		"type": "api_key",
		"data": map[string]string{"token": "tok-123"},
	})
	var created credentialResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	for i := 0; i < 2; i++ {
		rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/"+created.ID, ownerHeaders, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("retrieve %d status = %d", i, rec.Code)
		}
	}
	rec = doRequest(t, srv, http.MethodGet, "/v1/credentials/"+created.ID, ownerHeaders, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
