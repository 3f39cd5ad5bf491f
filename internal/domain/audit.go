package domain

import "time"

type Action string

const (
	ActionRetrieve     Action = "retrieve"
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionRotate       Action = "rotate"
	ActionRevoke       Action = "revoke"
	ActionDelete       Action = "delete"
	ActionAccessDenied Action = "access_denied"
)

// DefaultAuditLimit is applied when a query supplies no limit.
const DefaultAuditLimit = 50

// AuditLogEntry is append-only: immutable once written.
type AuditLogEntry struct {
	ID             string         `json:"id"`
	CredentialID   string         `json:"credentialId"`
	UserID         string         `json:"userId"`
	Action         Action         `json:"action"`
	Success        bool           `json:"success"`
	IPAddress      string         `json:"ipAddress,omitempty"`
	UserAgent      string         `json:"userAgent,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	CredentialName string         `json:"credentialName,omitempty"`
	IntegrationID  string         `json:"integrationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AuditFilter matches entries against all supplied fields. Nil pointer fields
// are not applied.
type AuditFilter struct {
	CredentialID string
	UserID       string
	Action       *Action
	Success      *bool
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

// Matches reports whether the entry satisfies every supplied filter field.
// Limit and Offset are pagination, not match criteria.
func (f AuditFilter) Matches(e AuditLogEntry) bool {
	if f.CredentialID != "" && e.CredentialID != f.CredentialID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	return true
}

// AuditDetails carries the optional per-entry fields a caller may attach.
type AuditDetails struct {
	CredentialName string
	IntegrationID  string
	Reason         string
	Metadata       map[string]any
}

// AuditReport aggregates entries within a time window. SuccessRate is a
// percentage and defaults to 100 over an empty window.
type AuditReport struct {
	TotalOperations           int            `json:"totalOperations"`
	ByAction                  map[Action]int `json:"byAction"`
	ByUser                    map[string]int `json:"byUser"`
	SuccessRate               float64        `json:"successRate"`
	AccessDeniedCount         int            `json:"accessDeniedCount"`
	UniqueCredentialsAccessed int            `json:"uniqueCredentialsAccessed"`
	UniqueUsers               int            `json:"uniqueUsers"`
}
