package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"credvault/internal/domain"
)

type stubPolicy struct {
	decision domain.PolicyDecision
	err      error
	calls    int
}

func (p *stubPolicy) Evaluate(_ context.Context, _ domain.AccessQuery) (domain.PolicyDecision, error) {
	p.calls++
	return p.decision, p.err
}

func testCredential() domain.VaultCredential {
	return domain.VaultCredential{
		ID:           "cred-1",
		Name:         "prod api key",
		Type:         domain.CredentialTypeAPIKey,
		AllowedUsers: []string{"user-1"},
		AllowedRoles: []string{"ops"},
		Status:       domain.CredentialStatusActive,
	}
}

func TestAuthorizeAllowList(t *testing.T) {
	access := NewAccessControlService(nil, nil)
	cred := testCredential()

	tests := []struct {
		name    string
		actx    domain.AccessContext
		allowed bool
		reason  string
	}{
		{"allowed user", domain.AccessContext{UserID: "user-1"}, true, ""},
		{"allowed role", domain.AccessContext{UserID: "user-9", UserRole: "ops"}, true, ""},
		{"unknown user", domain.AccessContext{UserID: "user-9", UserRole: "dev"}, false, ReasonNotInAllowList},
		{"empty context", domain.AccessContext{}, false, ReasonNotInAllowList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := access.Authorize(context.Background(), tt.actx, cred, domain.ActionRetrieve)
			if decision.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v", decision.Allowed, tt.allowed)
			}
			if !tt.allowed && decision.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", decision.Reason, tt.reason)
			}
		})
	}
}

func TestAuthorizeCredentialState(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	access := NewAccessControlService(nil, newFixedClock(now).Now)
	actx := domain.AccessContext{UserID: "user-1"}

	revoked := testCredential()
	revoked.Status = domain.CredentialStatusRevoked
	if d := access.Authorize(context.Background(), actx, revoked, domain.ActionRetrieve); d.Allowed || d.Reason != ReasonCredentialRevoked {
		t.Fatalf("revoked: got %+v", d)
	}

	rotating := testCredential()
	rotating.Status = domain.CredentialStatusRotating
	if d := access.Authorize(context.Background(), actx, rotating, domain.ActionRetrieve); d.Allowed || d.Reason != ReasonCredentialRotating {
		t.Fatalf("rotating: got %+v", d)
	}

	past := now.Add(-time.Hour)
	expired := testCredential()
	expired.ExpiresAt = &past
	if d := access.Authorize(context.Background(), actx, expired, domain.ActionRetrieve); d.Allowed || d.Reason != ReasonCredentialExpired {
		t.Fatalf("expired retrieve: got %+v", d)
	}
	// Rotation by an allowed requester repairs an expired credential.
	if d := access.Authorize(context.Background(), actx, expired, domain.ActionRotate); !d.Allowed {
		t.Fatalf("expired rotate: got %+v", d)
	}

	future := now.Add(time.Hour)
	notYet := testCredential()
	notYet.ExpiresAt = &future
	if d := access.Authorize(context.Background(), actx, notYet, domain.ActionRetrieve); !d.Allowed {
		t.Fatalf("future expiry: got %+v", d)
	}
}

func TestAuthorizePolicyVeto(t *testing.T) {
	actx := domain.AccessContext{UserID: "user-1"}
	cred := testCredential()

	policy := &stubPolicy{decision: domain.PolicyDecision{Allow: true}}
	access := NewAccessControlService(policy, nil)
	if d := access.Authorize(context.Background(), actx, cred, domain.ActionRetrieve); !d.Allowed {
		t.Fatalf("expected permit, got %+v", d)
	}
	if policy.calls != 1 {
		t.Fatalf("expected one policy evaluation, got %d", policy.calls)
	}

	policy = &stubPolicy{decision: domain.PolicyDecision{Allow: false, Deny: []string{"OFF_HOURS"}}}
	access = NewAccessControlService(policy, nil)
	if d := access.Authorize(context.Background(), actx, cred, domain.ActionRetrieve); d.Allowed || d.Reason != "OFF_HOURS" {
		t.Fatalf("expected policy deny reason, got %+v", d)
	}

	policy = &stubPolicy{decision: domain.PolicyDecision{Allow: false}}
	access = NewAccessControlService(policy, nil)
	if d := access.Authorize(context.Background(), actx, cred, domain.ActionRetrieve); d.Allowed || d.Reason != ReasonPolicyVeto {
		t.Fatalf("expected default veto reason, got %+v", d)
	}

	policy = &stubPolicy{err: errors.New("bundle broken")}
	access = NewAccessControlService(policy, nil)
	if d := access.Authorize(context.Background(), actx, cred, domain.ActionRetrieve); d.Allowed {
		t.Fatalf("expected fail-closed on policy error, got %+v", d)
	}
}

func TestAuthorizePolicyNotConsultedForDeniedAllowList(t *testing.T) {
	policy := &stubPolicy{decision: domain.PolicyDecision{Allow: true}}
	access := NewAccessControlService(policy, nil)

	d := access.Authorize(context.Background(), domain.AccessContext{UserID: "stranger"}, testCredential(), domain.ActionRetrieve)
	if d.Allowed {
		t.Fatalf("expected deny")
	}
	if policy.calls != 0 {
		t.Fatalf("policy should only veto permitted decisions, got %d calls", policy.calls)
	}
}
