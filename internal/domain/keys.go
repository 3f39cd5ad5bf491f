package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusRotating KeyStatus = "rotating"
	KeyStatusRetired  KeyStatus = "retired"
)

// EncryptionKey holds derived key material resident in process memory. Only
// the ID ever leaves the process, inside envelopes; material is dropped on
// retirement.
type EncryptionKey struct {
	ID        string
	Material  []byte
	Status    KeyStatus
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// KeyInfo is the exportable view of an EncryptionKey, without material.
type KeyInfo struct {
	ID        string
	Status    KeyStatus
	CreatedAt time.Time
}

// NewKeyID returns a globally unique key identifier of the form
// key_<base36-timestamp>_<random-hex>.
func NewKeyID(now time.Time) (string, error) {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	return fmt.Sprintf("key_%s_%s", ts, hex.EncodeToString(suffix)), nil
}
