// Package session holds the authenticated-user state of a Classroom Kit
// client. A Store is created explicitly and injected into the transport
// and the auth client; there is no process-wide session.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

const (
	fileVersion     = 1
	filePermissions = 0o600
	dirPermissions  = 0o700
)

// Cookie is a persisted session cookie.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// persistedState is the on-disk mirror of a Store.
type persistedState struct {
	Version   int         `json:"version"`
	User      *types.User `json:"user,omitempty"`
	Origin    string      `json:"origin,omitempty"`
	Cookies   []Cookie    `json:"cookies,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is the session-context object: the current user, the backend
// session cookies and the listeners interested in invalidation.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	path       string
	user       *types.User
	origin     string
	cookies    []Cookie
	generation uint64
	listeners  map[int]func()
	nextID     int
	logger     *slog.Logger
}

// NewStore creates an in-memory store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		listeners: make(map[int]func()),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store mirrored to path, loading any state saved there.
// An empty path gives an in-memory store.
func Open(path string, opts ...StoreOption) (*Store, error) {
	s := NewStore(opts...)
	if path == "" {
		return s, nil
	}
	s.path = path

	//nolint:gosec // G304: path comes from local configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	if state.Version != fileVersion {
		return nil, fmt.Errorf("unsupported session file version %d", state.Version)
	}

	s.user = state.User
	s.origin = state.Origin
	s.cookies = state.Cookies
	return s, nil
}

// Path returns the mirror file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// Current returns a copy of the signed-in user.
func (s *Store) Current() (*types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, false
	}
	u := *s.user
	return &u, true
}

// IsAuthenticated reports whether a user is signed in.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// HasRole reports whether the signed-in user has role.
func (s *Store) HasRole(role types.UserRole) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.Role == role
}

// Set records user as signed in and persists the state.
func (s *Store) Set(user *types.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	u := *user

	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	return s.persistLocked()
}

// Update merges patch into the signed-in user.
func (s *Store) Update(patch types.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return errors.New("no signed-in user")
	}
	patch.Apply(s.user)
	return s.persistLocked()
}

// Invalidate signs the user out locally: the user and the cookies are
// cleared and the mirror file is removed. Listeners run only when a user
// was signed in, after the state is cleared and outside the lock.
func (s *Store) Invalidate() {
	s.mu.Lock()
	wasAuthenticated := s.user != nil
	s.user = nil
	s.origin = ""
	s.cookies = nil
	s.generation++

	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove session file", slog.String("path", s.path), slog.String("error", err.Error()))
		}
	}

	var listeners []func()
	if wasAuthenticated {
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	if wasAuthenticated {
		s.logger.Info("session invalidated")
	}
	for _, fn := range listeners {
		fn()
	}
}

// OnInvalidate registers fn to run whenever a signed-in session is
// invalidated. The returned function removes the registration.
func (s *Store) OnInvalidate(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Generation increases each time the session is invalidated.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Cookies returns the persisted cookies and the origin they belong to.
func (s *Store) Cookies() (origin string, cookies []Cookie) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin, append([]Cookie(nil), s.cookies...)
}

// SaveCookies replaces the persisted cookies. Calls made for an older
// generation are ignored so a response racing an invalidation cannot
// resurrect the session.
func (s *Store) SaveCookies(generation uint64, origin string, cookies []Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return nil
	}
	s.origin = origin
	s.cookies = append([]Cookie(nil), cookies...)
	return s.persistLocked()
}

// persistLocked writes the state atomically. The caller holds s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	state := persistedState{
		Version:   fileVersion,
		User:      s.user,
		Origin:    s.origin,
		Cookies:   s.cookies,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() //nolint:errcheck // Gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set session file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
