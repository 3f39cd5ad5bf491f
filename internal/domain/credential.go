package domain

import "time"

const (
	EnvelopeAlgorithm = "aes-256-gcm"
	EnvelopeVersion   = 1
)

type CredentialStatus string

const (
	CredentialStatusActive   CredentialStatus = "active"
	CredentialStatusExpired  CredentialStatus = "expired"
	CredentialStatusRevoked  CredentialStatus = "revoked"
	CredentialStatusRotating CredentialStatus = "rotating"
)

type CredentialType string

const (
	CredentialTypeAPIKey      CredentialType = "api_key"
	CredentialTypeOAuthToken  CredentialType = "oauth_token"
	CredentialTypeCertificate CredentialType = "certificate"
	CredentialTypeBasicAuth   CredentialType = "basic_auth"
)

// EncryptedEnvelope is the only form in which secret material is persisted.
// Ciphertext, IV and AuthTag are base64; Algorithm and Version are fixed
// constants for this implementation.
type EncryptedEnvelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	KeyID      string `json:"keyId"`
	Algorithm  string `json:"algorithm"`
	Version    int    `json:"version"`
}

// CredentialData is the secret payload of a credential, e.g. an API key plus
// its companion fields.
type CredentialData map[string]string

// VaultCredential is the persisted record. Revocation is a status transition,
// never a hard delete.
type VaultCredential struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             CredentialType    `json:"type"`
	IntegrationID    string            `json:"integrationId,omitempty"`
	EncryptedData    EncryptedEnvelope `json:"encryptedData"`
	AllowedUsers     []string          `json:"allowedUsers"`
	AllowedRoles     []string          `json:"allowedRoles"`
	ExpiresAt        *time.Time        `json:"expiresAt,omitempty"`
	RotationSchedule time.Duration     `json:"rotationSchedule,omitempty"`
	LastRotated      *time.Time        `json:"lastRotated,omitempty"`
	RotationCount    int               `json:"rotationCount"`
	Status           CredentialStatus  `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	CreatedBy        string            `json:"createdBy"`
	LastAccessedAt   *time.Time        `json:"lastAccessedAt,omitempty"`
	LastAccessedBy   string            `json:"lastAccessedBy,omitempty"`
}

// EffectiveStatus folds a passed expiry deadline into the stored status.
func (c VaultCredential) EffectiveStatus(now time.Time) CredentialStatus {
	if c.Status == CredentialStatusActive && c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return CredentialStatusExpired
	}
	return c.Status
}

// DecryptedCredential exists only in memory, bounded to the call that
// requested it. It is never logged or persisted.
type DecryptedCredential struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      CredentialType `json:"type"`
	Data      CredentialData `json:"data"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
}

// CredentialInput is the create payload.
type CredentialInput struct {
	Name             string         `json:"name"`
	Type             CredentialType `json:"type"`
	Data             CredentialData `json:"data"`
	IntegrationID    string         `json:"integrationId,omitempty"`
	AllowedUsers     []string       `json:"allowedUsers,omitempty"`
	AllowedRoles     []string       `json:"allowedRoles,omitempty"`
	ExpiresAt        *time.Time     `json:"expiresAt,omitempty"`
	RotationSchedule time.Duration  `json:"rotationSchedule,omitempty"`
}

// CredentialUpdate carries partial updates. Pointer fields distinguish "not
// provided" from "set to zero value".
type CredentialUpdate struct {
	Name             *string         `json:"name,omitempty"`
	Data             *CredentialData `json:"data,omitempty"`
	AllowedUsers     *[]string       `json:"allowedUsers,omitempty"`
	AllowedRoles     *[]string       `json:"allowedRoles,omitempty"`
	ExpiresAt        *time.Time      `json:"expiresAt,omitempty"`
	RotationSchedule *time.Duration  `json:"rotationSchedule,omitempty"`
}
