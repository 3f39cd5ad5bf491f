package db

import "time"

type CredentialModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	Name             string  `gorm:"not null"`
	Type             string  `gorm:"not null"`
	IntegrationID    *string `gorm:"index"`
	Ciphertext       string  `gorm:"type:text;not null"`
	IV               string  `gorm:"not null"`
	AuthTag          string  `gorm:"not null"`
	KeyID            string  `gorm:"index;not null"`
	Algorithm        string  `gorm:"not null"`
	Version          int     `gorm:"not null"`
	AllowedUsersJSON []byte  `gorm:"type:jsonb;not null"`
	AllowedRolesJSON []byte  `gorm:"type:jsonb;not null"`
	ExpiresAt        *time.Time
	RotationSchedule int64 `gorm:"not null"` // seconds; zero means unscheduled
	LastRotated      *time.Time
	RotationCount    int       `gorm:"not null"`
	Status           string    `gorm:"index;not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
	CreatedBy        string    `gorm:"not null"`
	LastAccessedAt   *time.Time
	LastAccessedBy   *string
}

func (CredentialModel) TableName() string { return "vault_credentials" }

type AuditLogModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	CredentialID   string `gorm:"index:idx_audit_credential_ts,priority:1;not null"`
	UserID         string `gorm:"index:idx_audit_user_ts,priority:1;not null"`
	Action         string `gorm:"index;not null"`
	Success        bool   `gorm:"not null"`
	IPAddress      *string
	UserAgent      *string
	Reason         *string
	Timestamp      time.Time `gorm:"index:idx_audit_credential_ts,priority:2;index:idx_audit_user_ts,priority:2;index;not null"`
	CredentialName *string
	IntegrationID  *string
	MetadataJSON   []byte `gorm:"type:jsonb"`
}

func (AuditLogModel) TableName() string { return "vault_audit_log" }
