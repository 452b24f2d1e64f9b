// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	containerVersion  = "1.0"
	maxNicknameLength = 20
)

var forbiddenNicknameChars = regexp.MustCompile(`[<>@#&]`)

// SetResult is the outcome of a nickname set attempt. Message is
// user-facing and sent back to the requester verbatim.
type SetResult struct {
	Accepted bool
	Message  string
}

// nicknameContainer is the versioned on-disk shape of the registry.
type nicknameContainer struct {
	Version   string                     `json:"version"`
	Algorithm string                     `json:"algorithm"`
	Data      map[string]EncryptedRecord `json:"data"`
	Timestamp string                     `json:"timestamp"`
}

// NicknameRegistry maps platform user ids to chosen display names and
// owns the encrypted persistence of that mapping. It is the sole
// mutator of the backing file; every mutation is serialized under one
// lock and persists before the lock is released, so concurrent set
// calls cannot lose updates.
type NicknameRegistry struct {
	store *CredentialStore
	path  string
	log   zerolog.Logger

	mu    sync.Mutex
	names map[string]string
}

// NewNicknameRegistry builds a registry backed by the given file. Call
// Load before use.
func NewNicknameRegistry(store *CredentialStore, path string, log zerolog.Logger) *NicknameRegistry {
	r := &NicknameRegistry{
		store: store,
		path:  path,
		log:   log.With().Str("component", "nickname_registry").Logger(),
		names: make(map[string]string),
	}
	return r
}

// Load reads the persisted registry. A missing file or directory is
// created with an empty container. A versioned container is decrypted
// entry by entry, skipping records that fail authentication. A legacy
// plain {userId: name} mapping is ingested as-is and immediately
// re-persisted in the encrypted shape.
func (r *NicknameRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureFile(); err != nil {
		return err
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read nickname file: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "{}" || len(strings.TrimSpace(string(raw))) == 0 {
		r.log.Info().Msg("Nickname file is empty")
		return nil
	}

	var container nicknameContainer
	if err := json.Unmarshal(raw, &container); err == nil && container.Version != "" && container.Data != nil {
		for userID, rec := range container.Data {
			name, err := r.store.Decrypt(rec)
			if err != nil {
				r.log.Warn().Err(err).Str("user_id", userID).Msg("Dropping undecryptable nickname record")
				continue
			}
			r.names[userID] = name
		}
		r.log.Info().Int("count", len(r.names)).Msg("Loaded encrypted nicknames")
		return nil
	}

	// Legacy unversioned format: plain user id to name mapping.
	var legacy map[string]string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("nickname file is neither versioned nor legacy format: %w", err)
	}
	for userID, name := range legacy {
		r.names[userID] = name
	}
	r.log.Warn().Int("count", len(legacy)).Msg("Detected legacy plaintext nickname file, migrating to encrypted format")
	if err := r.persistLocked(); err != nil {
		return fmt.Errorf("failed to migrate legacy nickname file: %w", err)
	}
	r.log.Info().Msg("Legacy nickname migration complete")
	return nil
}

func (r *NicknameRegistry) ensureFile() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create nickname directory: %w", err)
	}
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		if err := os.WriteFile(r.path, []byte("{}"), 0o600); err != nil {
			return fmt.Errorf("failed to create nickname file: %w", err)
		}
		r.log.Info().Str("path", r.path).Msg("Created empty nickname file")
	} else if err != nil {
		return fmt.Errorf("failed to stat nickname file: %w", err)
	}
	return nil
}

// persistLocked writes the full registry in the versioned encrypted
// shape. Caller must hold the lock. Entries that fail to encrypt are
// skipped with a warning rather than aborting the whole write.
func (r *NicknameRegistry) persistLocked() error {
	data := make(map[string]EncryptedRecord, len(r.names))
	for userID, name := range r.names {
		rec, err := r.store.Encrypt(name)
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to encrypt nickname, skipping")
			continue
		}
		data[userID] = rec
	}

	container := nicknameContainer{
		Version:   containerVersion,
		Algorithm: EncryptionAlgorithm,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode nickname container: %w", err)
	}
	if err := os.WriteFile(r.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write nickname file: %w", err)
	}
	return nil
}

// Has reports whether the user has a registered nickname.
func (r *NicknameRegistry) Has(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[userID]
	return ok
}

// Get returns the user's nickname.
func (r *NicknameRegistry) Get(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[userID]
	return name, ok
}

// Count returns the number of registered nicknames.
func (r *NicknameRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// UserIDs returns the registered user ids. Names are intentionally not
// exposed in bulk; the admin surface only ever sees metadata.
func (r *NicknameRegistry) UserIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.names))
	for id := range r.names {
		ids = append(ids, id)
	}
	return ids
}

// Set validates rawInput and on acceptance stores the trimmed name and
// persists the whole registry. Rejections leave prior state untouched.
func (r *NicknameRegistry) Set(userID, rawInput string) SetResult {
	name := strings.TrimSpace(rawInput)

	if utf8.RuneCountInString(name) < 1 {
		return SetResult{
			Accepted: false,
			Message:  "❌ Please enter a nickname.\n\nExample: nick Taro",
		}
	}
	if utf8.RuneCountInString(name) > maxNicknameLength {
		return SetResult{
			Accepted: false,
			Message:  "❌ Nicknames must be 20 characters or fewer.\n\nExample: nick Taro",
		}
	}
	if forbiddenNicknameChars.MatchString(name) {
		return SetResult{
			Accepted: false,
			Message:  "❌ That nickname contains characters that are not allowed.\n(< > @ # & cannot be used)\n\nExample: nick Taro",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	previous, hadPrevious := r.names[userID]
	r.names[userID] = name
	if err := r.persistLocked(); err != nil {
		// Roll back so memory and disk do not diverge.
		if hadPrevious {
			r.names[userID] = previous
		} else {
			delete(r.names, userID)
		}
		r.log.Error().Err(err).Str("user_id", userID).Msg("Failed to persist nickname")
		return SetResult{
			Accepted: false,
			Message:  "❌ Failed to save your nickname. Please try again later.",
		}
	}

	r.log.Info().Str("user_id", userID).Msg("Nickname set")
	return SetResult{
		Accepted: true,
		Message: fmt.Sprintf("✅ Your nickname is now \"%s\"!\n\n"+
			"Your messages will be shared with Discord and other LINE users under this name.\n"+
			"🔒 Nicknames are stored encrypted.", name),
	}
}

// Reset removes a user's nickname and persists. Returns whether an
// entry existed. Admin-only operation.
func (r *NicknameRegistry) Reset(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[userID]; !ok {
		return false
	}
	delete(r.names, userID)
	if err := r.persistLocked(); err != nil {
		r.log.Error().Err(err).Str("user_id", userID).Msg("Failed to persist nickname reset")
	}
	r.log.Info().Str("user_id", userID).Msg("Nickname reset")
	return true
}
