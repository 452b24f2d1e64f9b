// Copyright 2024-2026 Aiku AI

package bridge

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

// EncryptionAlgorithm is the identifier written into persisted
// containers so a future format change can be detected.
const EncryptionAlgorithm = "aes-256-gcm"

// aadNicknameData binds every record to the nickname category, so the
// same ciphertext cannot be replayed as a different record type if the
// store is ever reused for other data.
var aadNicknameData = []byte("nickname-data")

// EncryptedRecord is one encrypted value at rest. All fields are
// hex-encoded.
type EncryptedRecord struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

// CredentialStore encrypts and decrypts per-user records with
// AES-256-GCM under a process-wide key.
type CredentialStore struct {
	aead         cipher.AEAD
	keyGenerated bool
}

// NewCredentialStore builds a store from a 64-char hex key. When keyHex
// is empty a random key is generated; records written under a generated
// key are unreadable after restart, so a warning is logged.
func NewCredentialStore(keyHex string, log zerolog.Logger) (*CredentialStore, error) {
	generated := false
	var key []byte
	if keyHex == "" {
		key = random.Bytes(32)
		generated = true
		log.Warn().Msg("No encryption key configured, generated an ephemeral key; " +
			"all persisted records will be unreadable after restart")
	} else {
		var err error
		key, err = hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	return &CredentialStore{aead: aead, keyGenerated: generated}, nil
}

// KeyGenerated reports whether the store is running on an ephemeral
// generated key instead of a configured one.
func (s *CredentialStore) KeyGenerated() bool {
	return s.keyGenerated
}

// Encrypt seals a plaintext into an EncryptedRecord.
func (s *CredentialStore) Encrypt(plaintext string) (EncryptedRecord, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return EncryptedRecord{}, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := s.aead.Seal(nil, iv, []byte(plaintext), aadNicknameData)
	tagStart := len(sealed) - s.aead.Overhead()
	return EncryptedRecord{
		Encrypted: hex.EncodeToString(sealed[:tagStart]),
		IV:        hex.EncodeToString(iv),
		AuthTag:   hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt opens a record. Malformed fields, a wrong key or a tampered
// auth tag all return an error; callers drop the single record and
// carry on.
func (s *CredentialStore) Decrypt(rec EncryptedRecord) (string, error) {
	ciphertext, err := hex.DecodeString(rec.Encrypted)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}
	iv, err := hex.DecodeString(rec.IV)
	if err != nil {
		return "", fmt.Errorf("malformed IV: %w", err)
	}
	tag, err := hex.DecodeString(rec.AuthTag)
	if err != nil {
		return "", fmt.Errorf("malformed auth tag: %w", err)
	}
	if len(iv) != s.aead.NonceSize() {
		return "", fmt.Errorf("IV has wrong length %d", len(iv))
	}

	plaintext, err := s.aead.Open(nil, iv, append(ciphertext, tag...), aadNicknameData)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
