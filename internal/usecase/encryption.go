package usecase

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"credvault/internal/domain"
	"credvault/internal/infra/crypto"
)

// EncryptionService performs authenticated encryption under keys derived from
// a master secret and owns the key lifecycle. Derived material never leaves
// the process and is never persisted; envelopes carry only the key id.
//
// The keyring is write-once-per-id, read-many: encrypt/decrypt take the read
// lock, rotation and retirement take the write lock.
type EncryptionService struct {
	mu         sync.RWMutex
	keys       map[string]*domain.EncryptionKey
	currentID  string
	masterHash []byte
	clock      Clock
}

func NewEncryptionService(masterSecret string, clock Clock) (*EncryptionService, error) {
	if masterSecret == "" {
		return nil, domain.NewValidationError("masterSecret", "must not be empty")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	s := &EncryptionService{
		keys:       make(map[string]*domain.EncryptionKey),
		masterHash: crypto.HashSecret([]byte(masterSecret)),
		clock:      clock,
	}
	keyID, err := s.deriveKey(masterSecret)
	if err != nil {
		return nil, err
	}
	s.currentID = keyID
	return s, nil
}

// Encrypt seals plaintext under the current active key with a fresh IV on
// every call.
func (s *EncryptionService) Encrypt(plaintext string) (domain.EncryptedEnvelope, error) {
	s.mu.RLock()
	key := s.keys[s.currentID]
	s.mu.RUnlock()
	if key == nil || key.Material == nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("%w: no active key", domain.ErrUnknownKey)
	}

	ciphertext, nonce, tag, err := crypto.Encrypt(key.Material, []byte(plaintext))
	if err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("encrypt: %w", err)
	}
	return domain.EncryptedEnvelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		KeyID:      key.ID,
		Algorithm:  domain.EnvelopeAlgorithm,
		Version:    domain.EnvelopeVersion,
	}, nil
}

// Decrypt verifies and opens an envelope. Malformed fields fail with a
// ValidationError before any cryptographic work; a missing key id fails with
// ErrUnknownKey; tag verification failure is ErrIntegrity.
func (s *EncryptionService) Decrypt(env domain.EncryptedEnvelope) (string, error) {
	ciphertext, nonce, tag, err := decodeEnvelope(env)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	key := s.keys[env.KeyID]
	s.mu.RUnlock()
	if key == nil || key.Material == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownKey, env.KeyID)
	}

	plaintext, err := crypto.Decrypt(key.Material, ciphertext, nonce, tag)
	if err != nil {
		return "", fmt.Errorf("%w: envelope under key %s", domain.ErrIntegrity, env.KeyID)
	}
	return string(plaintext), nil
}

// ReEncrypt decrypts under the envelope's key and seals under the current
// key. Pure decrypt-then-encrypt: re-running it on an already-migrated
// envelope is safe.
func (s *EncryptionService) ReEncrypt(env domain.EncryptedEnvelope) (domain.EncryptedEnvelope, error) {
	plaintext, err := s.Decrypt(env)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	return s.Encrypt(plaintext)
}

// RotateKey derives a new current key from the new master secret. The
// superseded key moves to rotating and stays resident for decryption until an
// explicit retirement sweep removes it.
func (s *EncryptionService) RotateKey(newMasterSecret string) (string, error) {
	if newMasterSecret == "" {
		return "", domain.NewValidationError("newMasterSecret", "must not be empty")
	}
	keyID, err := s.deriveKey(newMasterSecret)
	if err != nil {
		return "", err
	}
	return keyID, nil
}

// RetireKey drops the derived material for a key no persisted envelope
// references anymore. The current key cannot be retired.
func (s *EncryptionService) RetireKey(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keyID == s.currentID {
		return errors.New("cannot retire the current key")
	}
	key, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownKey, keyID)
	}
	for i := range key.Material {
		key.Material[i] = 0
	}
	key.Material = nil
	key.Status = domain.KeyStatusRetired
	return nil
}

// VerifyMasterKey compares a one-way hash of the candidate against the hash
// of the secret supplied at construction. Administrative confirmation only.
func (s *EncryptionService) VerifyMasterKey(candidate string) bool {
	return subtle.ConstantTimeCompare(crypto.HashSecret([]byte(candidate)), s.masterHash) == 1
}

// CurrentKeyID is stable until the next rotation.
func (s *EncryptionService) CurrentKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Keys returns a material-free snapshot of the keyring, newest first.
func (s *EncryptionService) Keys() []domain.KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.KeyInfo, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, domain.KeyInfo{ID: key.ID, Status: key.Status, CreatedAt: key.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// KeyStatus reports the lifecycle state of a key id.
func (s *EncryptionService) KeyStatus(keyID string) (domain.KeyStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return "", false
	}
	return key.Status, true
}

// deriveKey stretches the secret into a new keyring entry and makes it
// current. Derivation runs outside the lock; only the map mutation is
// serialized against concurrent readers.
func (s *EncryptionService) deriveKey(masterSecret string) (string, error) {
	now := s.clock().UTC()
	keyID, err := domain.NewKeyID(now)
	if err != nil {
		return "", fmt.Errorf("generating key id: %w", err)
	}
	material := crypto.DeriveKey([]byte(masterSecret), keyID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.keys[s.currentID]; ok {
		prev.Status = domain.KeyStatusRotating
	}
	s.keys[keyID] = &domain.EncryptionKey{
		ID:        keyID,
		Material:  material,
		Status:    domain.KeyStatusActive,
		CreatedAt: now,
	}
	s.currentID = keyID
	return keyID, nil
}

func decodeEnvelope(env domain.EncryptedEnvelope) (ciphertext, nonce, tag []byte, err error) {
	if env.Algorithm != domain.EnvelopeAlgorithm {
		return nil, nil, nil, domain.NewValidationError("algorithm", "unsupported algorithm "+env.Algorithm)
	}
	if env.Version != domain.EnvelopeVersion {
		return nil, nil, nil, domain.NewValidationError("version", "unsupported envelope version")
	}
	if env.KeyID == "" {
		return nil, nil, nil, domain.NewValidationError("keyId", "must not be empty")
	}
	ciphertext, err = base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, nil, nil, domain.NewValidationError("ciphertext", "invalid base64")
	}
	nonce, err = base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, nil, nil, domain.NewValidationError("iv", "invalid base64")
	}
	if len(nonce) != crypto.NonceLen {
		return nil, nil, nil, domain.NewValidationError("iv", fmt.Sprintf("must be %d bytes", crypto.NonceLen))
	}
	tag, err = base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, nil, nil, domain.NewValidationError("authTag", "invalid base64")
	}
	if len(tag) != crypto.TagLen {
		return nil, nil, nil, domain.NewValidationError("authTag", fmt.Sprintf("must be %d bytes", crypto.TagLen))
	}
	return ciphertext, nonce, tag, nil
}
