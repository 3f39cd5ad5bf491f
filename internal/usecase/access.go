package usecase

import (
	"context"
	"time"

	"credvault/internal/domain"
)

// Deny reasons are stable strings: they are shown to requesters and recorded
// verbatim in the audit log.
const (
	ReasonNotInAllowList     = "user not in allow list"
	ReasonCredentialExpired  = "credential expired"
	ReasonCredentialRevoked  = "credential revoked"
	ReasonCredentialRotating = "credential rotation in progress"
	ReasonPolicyVeto         = "denied by access policy"
)

// AccessControlService decides permit/deny for a requested action against a
// credential. The decision has no side effects and performs no I/O, so it is
// identical whether the result drives an operation or only a log entry.
type AccessControlService struct {
	policy PolicyEngine
	clock  Clock
}

func NewAccessControlService(policy PolicyEngine, clock Clock) *AccessControlService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &AccessControlService{policy: policy, clock: clock}
}

// Authorize permits a request only when the requester is on one of the
// credential's allow-lists and the credential is in a state that admits the
// action. Rotation by an allowed requester repairs an expired credential, so
// it is permitted through the expired state.
func (s *AccessControlService) Authorize(ctx context.Context, actx domain.AccessContext, cred domain.VaultCredential, action domain.Action) domain.Decision {
	if !onAllowList(actx, cred) {
		return domain.Deny(ReasonNotInAllowList)
	}

	switch cred.EffectiveStatus(s.clock()) {
	case domain.CredentialStatusRevoked:
		return domain.Deny(ReasonCredentialRevoked)
	case domain.CredentialStatusExpired:
		if action != domain.ActionRotate {
			return domain.Deny(ReasonCredentialExpired)
		}
	case domain.CredentialStatusRotating:
		return domain.Deny(ReasonCredentialRotating)
	}

	if s.policy != nil {
		decision, err := s.policy.Evaluate(ctx, domain.AccessQuery{
			UserID:        actx.UserID,
			UserRole:      actx.UserRole,
			Action:        string(action),
			CredentialID:  cred.ID,
			IntegrationID: cred.IntegrationID,
		})
		if err != nil {
			return domain.Deny(ReasonPolicyVeto)
		}
		if !decision.Allow {
			reason := ReasonPolicyVeto
			if len(decision.Deny) > 0 {
				reason = decision.Deny[0]
			}
			return domain.Deny(reason)
		}
	}

	return domain.Permit()
}

func onAllowList(actx domain.AccessContext, cred domain.VaultCredential) bool {
	for _, id := range cred.AllowedUsers {
		if id == actx.UserID {
			return true
		}
	}
	for _, role := range cred.AllowedRoles {
		if role == actx.UserRole {
			return true
		}
	}
	return false
}
