package domain

// RoleAdmin gates the audit log, key listing and master key rotation. It
// grants no bypass of per-credential allow-lists.
const RoleAdmin = "admin"

// AccessContext identifies the requester. It is produced per request by the
// authentication layer and never persisted by the vault.
type AccessContext struct {
	UserID    string `json:"userId"`
	UserRole  string `json:"userRole"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Decision is the outcome of an access-control evaluation. A deny always
// carries a loggable reason.
type Decision struct {
	Allowed bool
	Reason  string
}

func Permit() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// AccessQuery is the input handed to an external policy engine for an
// optional veto on an otherwise-permitted decision.
type AccessQuery struct {
	UserID        string `json:"user_id"`
	UserRole      string `json:"user_role"`
	Action        string `json:"action"`
	CredentialID  string `json:"credential_id"`
	IntegrationID string `json:"integration_id,omitempty"`
}

// PolicyDecision is the result document produced by a policy engine.
type PolicyDecision struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny"`
}
