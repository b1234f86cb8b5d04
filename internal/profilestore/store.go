// Package profilestore implements the persisted-state profile directory of
// spec.md §6: a portable on-disk directory holding opaque browser state
// plus metadata.json/preferences.json/.lock, guarded by an advisory
// pid-liveness lock rather than an OS-level file lock.
package profilestore

import (
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reach/internal/corerrors"
	"reach/internal/cookie"
)

// Metadata is profile metadata.json per spec.md §6.
type Metadata struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsed    time.Time         `json:"last_used"`
	Tags        []string          `json:"tags,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Proxy       string            `json:"proxy,omitempty"`
	Preferences map[string]any    `json:"preferences,omitempty"`
	State       string            `json:"state,omitempty"`
	LockPID     int               `json:"lock_pid,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type lockFile struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// Handle is one acquired, lockable profile directory.
type Handle struct {
	dir string

	mu        sync.Mutex
	metadata  Metadata
	locked    bool
	cookieKey []byte
}

func metadataPath(dir string) string    { return filepath.Join(dir, "metadata.json") }
func preferencesPath(dir string) string { return filepath.Join(dir, "preferences.json") }
func lockPath(dir string) string        { return filepath.Join(dir, ".lock") }
func userDataPath(dir string) string     { return filepath.Join(dir, "user_data") }
func cookieKeyPath(dir string) string   { return filepath.Join(dir, "cookie.key") }

// loadOrCreateCookieKey reads the profile's AES-256 cookie-encryption key,
// generating and persisting a fresh one on first use.
func loadOrCreateCookieKey(dir string) ([]byte, error) {
	path := cookieKeyPath(dir)
	if data, err := os.ReadFile(path); err == nil && len(data) == 32 {
		return data, nil
	}
	key := make([]byte, 32)
	if _, err := cryptorand.Read(key); err != nil {
		return nil, fmt.Errorf("generate cookie key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("persist cookie key: %w", err)
	}
	return key, nil
}

// Create initializes a fresh profile directory under baseDir/id and
// acquires its lock.
func Create(baseDir, id, name string) (*Handle, error) {
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(userDataPath(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	now := time.Now()
	md := Metadata{ID: id, Name: name, CreatedAt: now, LastUsed: now, State: "active"}
	h := &Handle{dir: dir, metadata: md}
	if err := h.writeMetadataLocked(); err != nil {
		return nil, err
	}
	if err := h.acquireLock(); err != nil {
		return nil, err
	}
	key, err := loadOrCreateCookieKey(dir)
	if err != nil {
		return nil, err
	}
	h.cookieKey = key
	return h, nil
}

// Open acquires an existing profile directory's lock and loads its
// metadata. Returns corerrors.ErrProfileMissing if the directory or its
// metadata.json does not exist.
func Open(baseDir, id string) (*Handle, error) {
	dir := filepath.Join(baseDir, id)
	data, err := os.ReadFile(metadataPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, corerrors.ErrProfileMissing
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	h := &Handle{dir: dir, metadata: md}
	if err := h.acquireLock(); err != nil {
		return nil, err
	}
	key, err := loadOrCreateCookieKey(dir)
	if err != nil {
		return nil, err
	}
	h.cookieKey = key
	return h, nil
}

// acquireLock prunes a stale lock (pid no longer live) and writes a fresh
// one. This is a cheap liveness check, not an atomic lock, per spec.md
// §4's shared-resource policy: acceptable because profiles are not a
// concurrent write path.
func (h *Handle) acquireLock() error {
	path := lockPath(h.dir)
	if data, err := os.ReadFile(path); err == nil {
		var existing lockFile
		if json.Unmarshal(data, &existing) == nil && existing.PID != os.Getpid() {
			if processLive(existing.PID) {
				return &corerrors.ProfileLocked{PID: existing.PID}
			}
		}
	}

	lf := lockFile{PID: os.Getpid(), Timestamp: time.Now()}
	data, err := json.Marshal(lf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}

	h.mu.Lock()
	h.locked = true
	h.metadata.LockPID = lf.PID
	h.mu.Unlock()
	return nil
}

// Release drops the lock file, if held by this process.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.locked {
		return nil
	}
	h.locked = false
	err := os.Remove(lockPath(h.dir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Dir returns the profile's root directory.
func (h *Handle) Dir() string { return h.dir }

// UserDataDir returns the directory the browser process should use as its
// user-data-dir: opaque state consumed only by the browser.
func (h *Handle) UserDataDir() string { return userDataPath(h.dir) }

// Metadata returns a copy of the current metadata.
func (h *Handle) Metadata() Metadata {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metadata
}

// Touch updates last_used and persists metadata.
func (h *Handle) Touch() error {
	h.mu.Lock()
	h.metadata.LastUsed = time.Now()
	h.mu.Unlock()
	return h.writeMetadataLocked()
}

// SetUserAgent updates the stored user agent and persists metadata.
func (h *Handle) SetUserAgent(ua string) error {
	h.mu.Lock()
	h.metadata.UserAgent = ua
	h.mu.Unlock()
	return h.writeMetadataLocked()
}

// SetProxy updates the stored proxy URL and persists metadata.
func (h *Handle) SetProxy(proxyURL string) error {
	h.mu.Lock()
	h.metadata.Proxy = proxyURL
	h.mu.Unlock()
	return h.writeMetadataLocked()
}

func (h *Handle) writeMetadataLocked() error {
	h.mu.Lock()
	data, err := json.MarshalIndent(h.metadata, "", "  ")
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(metadataPath(h.dir), data, 0o600)
}

// WritePreferences persists arbitrary browser preferences to
// preferences.json.
func (h *Handle) WritePreferences(prefs map[string]any) error {
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(preferencesPath(h.dir), data, 0o600)
}

// ReadPreferences loads preferences.json, returning an empty map if absent.
func (h *Handle) ReadPreferences() (map[string]any, error) {
	data, err := os.ReadFile(preferencesPath(h.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var prefs map[string]any
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// cookiesSnapshotPath is where the profile's extracted CookieStore state is
// persisted between browser runs (spec.md §6's "opaque browser state" is
// the engine's own, but cookies are modeled explicitly so DualModeRouter
// and HttpClient can restore them without relaunching the browser).
func (h *Handle) cookiesSnapshotPath() string {
	return filepath.Join(h.dir, "cookies.json")
}

// SaveCookies persists store's records to the profile directory, AES-GCM
// sealed under the profile's cookie.key so the snapshot is opaque at rest.
func (h *Handle) SaveCookies(store *cookie.Store) error {
	recs := store.GetAll()
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	sealed, err := h.encryptCookies(data)
	if err != nil {
		return fmt.Errorf("encrypt cookie snapshot: %w", err)
	}
	return os.WriteFile(h.cookiesSnapshotPath(), sealed, 0o600)
}

// LoadCookies restores persisted records into store. A missing snapshot is
// not an error.
func (h *Handle) LoadCookies(store *cookie.Store) error {
	sealed, err := os.ReadFile(h.cookiesSnapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	data, err := h.decryptCookies(sealed)
	if err != nil {
		return fmt.Errorf("decrypt cookie snapshot: %w", err)
	}
	var recs []cookie.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}
	store.UpdateFromList(recs)
	return nil
}

func (h *Handle) encryptCookies(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(h.cookieKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(cryptorand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (h *Handle) decryptCookies(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(h.cookieKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("cookie snapshot ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = cryptorand.Read(b)
	return fmt.Sprintf("profile_%x", b)
}

// NewID generates a fresh profile identifier.
func NewID() string { return randomID() }
