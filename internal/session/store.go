// Package session stores named cookie sets that can be attached to extraction requests.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/Loopxo/khoj/pkg/models"
)

const (
	// KeyringService is the service name for keyring storage
	KeyringService = "khoj"
	// FallbackDir is the directory under $HOME for file-based storage when the keyring is unavailable
	FallbackDir = ".khoj/sessions"

	manifestKey = "_manifest"
	probeKey    = "_probe"
)

// ErrExpired is returned when loading a session whose cookies have all expired
var ErrExpired = errors.New("session expired")

// Cookie is one stored browser cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Session is a named cookie set captured for a site
type Session struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Cookies   []Cookie  `json:"cookies"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CookieMap flattens the session into name/value pairs. Later duplicates win.
func (s *Session) CookieMap() map[string]string {
	m := make(map[string]string, len(s.Cookies))
	for _, c := range s.Cookies {
		m[c.Name] = c.Value
	}
	return m
}

// Apply merges the session cookies into opts. Cookies already set on opts are kept.
func (s *Session) Apply(opts *models.ExtractionOptions) {
	if len(s.Cookies) == 0 {
		return
	}
	if opts.AntiBot == nil {
		opts.AntiBot = &models.AntiBotConfig{}
	}
	merged := s.CookieMap()
	for k, v := range opts.AntiBot.Cookies {
		merged[k] = v
	}
	opts.AntiBot.Cookies = merged
}

// Expired reports whether the session has a known expiry in the past
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store persists sessions in the OS keyring, or as files when no keyring is reachable
type Store struct {
	dir     string
	useFile bool
	mu      sync.Mutex
	now     func() time.Time
}

// NewStore probes the keyring and falls back to files under dir.
// An empty dir means $HOME/.khoj/sessions.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, FallbackDir)
	}
	return &Store{dir: dir, useFile: !keyringAvailable(), now: time.Now}, nil
}

// NewFileStore always stores sessions as files in dir
func NewFileStore(dir string) *Store {
	return &Store{dir: dir, useFile: true, now: time.Now}
}

// Backend names where sessions are kept
func (st *Store) Backend() string {
	if st.useFile {
		return "file:" + st.dir
	}
	return "keyring"
}

func keyringAvailable() bool {
	// Codespaces and CI rarely have a secret service
	if os.Getenv("CODESPACES") != "" || os.Getenv("CI") != "" {
		return false
	}
	if err := keyring.Set(KeyringService, probeKey, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(KeyringService, probeKey)
	return true
}

func (st *Store) path(name string) (string, error) {
	if err := os.MkdirAll(st.dir, 0o700); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return filepath.Join(st.dir, name+".json"), nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, "_") {
		return fmt.Errorf("invalid session name %q", name)
	}
	return nil
}

// Save stores s, replacing any session with the same name
func (st *Store) Save(s *Session) error {
	if err := validName(s.Name); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.now()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.useFile {
		path, err := st.path(s.Name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("failed to save session file: %w", err)
		}
		return nil
	}

	if err := keyring.Set(KeyringService, s.Name, string(data)); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return st.updateManifest(s.Name, true)
}

// Load returns a stored session. Expired sessions yield ErrExpired.
func (st *Store) Load(name string) (*Session, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var data []byte
	if st.useFile {
		path, err := st.path(name)
		if err != nil {
			return nil, err
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %q: %w", name, err)
		}
	} else {
		raw, err := keyring.Get(KeyringService, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %q from keyring: %w", name, err)
		}
		data = []byte(raw)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	if s.Expired(st.now()) {
		return &s, ErrExpired
	}
	return &s, nil
}

// Delete removes a session. Missing sessions are not an error.
func (st *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.useFile {
		path, err := st.path(name)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete session file: %w", err)
		}
		return nil
	}

	if err := keyring.Delete(KeyringService, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return st.updateManifest(name, false)
}

// List returns stored session names in sorted order
func (st *Store) List() ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.list()
}

func (st *Store) list() ([]string, error) {
	if st.useFile {
		entries, err := os.ReadDir(st.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return []string{}, nil
			}
			return nil, err
		}
		names := []string{}
		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
				names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
			}
		}
		slices.Sort(names)
		return names, nil
	}

	// The keyring cannot enumerate, so names are tracked in a manifest entry
	raw, err := keyring.Get(KeyringService, manifestKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("failed to deserialize manifest: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (st *Store) updateManifest(name string, add bool) error {
	names, err := st.list()
	if err != nil {
		return err
	}
	names = slices.DeleteFunc(names, func(n string) bool { return n == name })
	if add {
		names = append(names, name)
	}
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return keyring.Set(KeyringService, manifestKey, string(data))
}
