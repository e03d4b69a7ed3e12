package usecase

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"maestro/internal/domain"
)

// titleRunes caps the session title derived from the first user message.
const titleRunes = 50

// Session is one conversation: an ordered, append-only message history
// shared by every invocation that presents the same external key.
type Session struct {
	mu          sync.RWMutex
	ID          string           `json:"id"`           // ULID, globally unique
	ExternalKey string           `json:"external_key"` // caller-supplied lookup key
	Title       string           `json:"title,omitempty"`
	Msgs        []domain.Message `json:"messages"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SessionInfo is a point-in-time snapshot of one session's metadata.
type SessionInfo struct {
	ID          string    `json:"id"`
	ExternalKey string    `json:"external_key"`
	Title       string    `json:"title,omitempty"`
	Messages    int       `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewSession creates an empty session for the given external key.
func NewSession(externalKey string) *Session {
	now := time.Now()
	return &Session{
		ID:          generateULID(now),
		ExternalKey: externalKey,
		Msgs:        make([]domain.Message, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewSessionKey returns a fresh ULID for callers that did not supply a
// session key of their own.
func NewSessionKey() string {
	return generateULID(time.Now())
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// AddMessage appends a message and updates the timestamp. The first user
// message also becomes the session title.
func (s *Session) AddMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if s.Title == "" && msg.Role == domain.RoleUser {
		s.Title = deriveTitle(msg.Content)
	}
	s.Msgs = append(s.Msgs, msg)
	s.UpdatedAt = time.Now()
}

// Messages returns a copy of the full message history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.Msgs))
	copy(cp, s.Msgs)
	return cp
}

// Recent returns a copy of the last n messages; n <= 0 returns all.
func (s *Session) Recent(n int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.Msgs) > n {
		start = len(s.Msgs) - n
	}
	cp := make([]domain.Message, len(s.Msgs)-start)
	copy(cp, s.Msgs[start:])
	return cp
}

// MessageCount returns the number of messages in the session.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Msgs)
}

// Info returns a metadata snapshot.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:          s.ID,
		ExternalKey: s.ExternalKey,
		Title:       s.Title,
		Messages:    len(s.Msgs),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// deriveTitle squashes whitespace and caps the result at titleRunes.
func deriveTitle(content string) string {
	t := strings.Join(strings.Fields(content), " ")
	r := []rune(t)
	if len(r) > titleRunes {
		return string(r[:titleRunes]) + "..."
	}
	return t
}

// SessionStore holds sessions keyed by external key. With a data
// directory it also persists each session as a JSON file; with an empty
// directory it is purely in-memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dataDir  string
}

// NewSessionStore creates a session store. dataDir may be empty to
// disable persistence.
func NewSessionStore(dataDir string) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		dataDir:  dataDir,
	}
}

// validateKey rejects external keys that are unsafe as file names.
func (st *SessionStore) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("session key contains path separators: %q", key)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key contains parent directory reference: %q", key)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key contains null byte: %q", key)
	}
	if clean := filepath.Clean(key); clean != key {
		return fmt.Errorf("session key is not a clean path element: %q", key)
	}
	return nil
}

// GetOrCreate returns the session for key, loading it from disk when
// persisted, or creating a fresh one.
func (st *SessionStore) GetOrCreate(key string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[key]; ok {
		return s
	}

	s := NewSession(key)
	if loaded, err := st.loadFromDisk(key); err == nil {
		s = loaded
	}
	st.sessions[key] = s
	return s
}

// Get returns an existing session or ErrSessionNotFound.
func (st *SessionStore) Get(key string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[key]
	st.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("SessionStore.Get", domain.ErrSessionNotFound, key)
	}
	return s, nil
}

// Save writes the session to disk. A store without a data directory
// saves nothing and returns nil.
func (st *SessionStore) Save(key string) error {
	if st.dataDir == "" {
		return nil
	}
	if err := st.validateKey(key); err != nil {
		return domain.NewDomainError("SessionStore.Save", err, key)
	}

	st.mu.RLock()
	s, ok := st.sessions[key]
	st.mu.RUnlock()
	if !ok {
		return domain.NewDomainError("SessionStore.Save", domain.ErrSessionNotFound, key)
	}

	if err := os.MkdirAll(st.dataDir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return os.WriteFile(filepath.Join(st.dataDir, key+".json"), data, 0600)
}

// Delete removes a session from memory and disk.
func (st *SessionStore) Delete(key string) error {
	if err := st.validateKey(key); err != nil {
		return domain.NewDomainError("SessionStore.Delete", err, key)
	}

	st.mu.Lock()
	_, ok := st.sessions[key]
	delete(st.sessions, key)
	st.mu.Unlock()
	if !ok {
		return domain.NewDomainError("SessionStore.Delete", domain.ErrSessionNotFound, key)
	}

	if st.dataDir == "" {
		return nil
	}
	path := filepath.Join(st.dataDir, key+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns a snapshot of every active session, most recently
// updated first.
func (st *SessionStore) List() []SessionInfo {
	st.mu.RLock()
	infos := make([]SessionInfo, 0, len(st.sessions))
	for _, s := range st.sessions {
		infos = append(infos, s.Info())
	}
	st.mu.RUnlock()

	for i := 1; i < len(infos); i++ {
		for j := i; j > 0 && infos[j].UpdatedAt.After(infos[j-1].UpdatedAt); j-- {
			infos[j], infos[j-1] = infos[j-1], infos[j]
		}
	}
	return infos
}

// Count returns the number of active sessions.
func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Reap removes sessions not updated within maxAge and returns how many
// were removed.
func (st *SessionStore) Reap(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	st.mu.RLock()
	var stale []string
	for key, s := range st.sessions {
		s.mu.RLock()
		old := s.UpdatedAt.Before(cutoff)
		s.mu.RUnlock()
		if old {
			stale = append(stale, key)
		}
	}
	st.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	st.mu.Lock()
	for _, key := range stale {
		delete(st.sessions, key)
	}
	st.mu.Unlock()

	if st.dataDir != "" {
		for _, key := range stale {
			if st.validateKey(key) != nil {
				continue
			}
			os.Remove(filepath.Join(st.dataDir, key+".json"))
		}
	}
	return len(stale)
}

func (st *SessionStore) loadFromDisk(key string) (*Session, error) {
	if st.dataDir == "" {
		return nil, os.ErrNotExist
	}
	if err := st.validateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(st.dataDir, key+".json"))
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.ExternalKey == "" {
		s.ExternalKey = key
	}
	if s.ID == "" {
		s.ID = generateULID(time.Now())
	}
	return &s, nil
}
