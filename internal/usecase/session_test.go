package usecase

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/domain"
)

func TestNewSessionKeyUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := NewSessionKey()
		assert.Len(t, key, 26)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestAddMessageSetsTitle(t *testing.T) {
	s := NewSession("sess-1")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "  How   do I\n deploy  nginx? "})

	assert.Equal(t, "How do I deploy nginx?", s.Title)
	assert.Equal(t, 1, s.MessageCount())
}

func TestAddMessageTitleTruncation(t *testing.T) {
	s := NewSession("sess-1")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: strings.Repeat("x", 60)})

	assert.Equal(t, strings.Repeat("x", 50)+"...", s.Title)
}

func TestTitleOnlyFromUserMessage(t *testing.T) {
	s := NewSession("sess-1")
	s.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: "welcome"})
	assert.Empty(t, s.Title)

	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "first question"})
	assert.Equal(t, "first question", s.Title)

	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "second question"})
	assert.Equal(t, "first question", s.Title, "title must not change after the first user message")
}

func TestAddMessageBackfillsTimestamp(t *testing.T) {
	s := NewSession("sess-1")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "hi"})

	assert.False(t, s.Messages()[0].Timestamp.IsZero())
}

func TestRecent(t *testing.T) {
	s := NewSession("sess-1")
	for _, content := range []string{"a", "b", "c", "d", "e"} {
		s.AddMessage(domain.Message{Role: domain.RoleUser, Content: content})
	}

	last2 := s.Recent(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "d", last2[0].Content)
	assert.Equal(t, "e", last2[1].Content)

	assert.Len(t, s.Recent(0), 5)
	assert.Len(t, s.Recent(-1), 5)
	assert.Len(t, s.Recent(10), 5)
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewSession("sess-1")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "original"})

	msgs := s.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, "original", s.Messages()[0].Content)
}

func TestStorePersistRoundTrip(t *testing.T) {
	dir := t.TempDir()

	st := NewSessionStore(dir)
	s := st.GetOrCreate("chat-42")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "remember me"})
	s.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: "noted", Name: "PythonExpert"})
	require.NoError(t, st.Save("chat-42"))

	st2 := NewSessionStore(dir)
	loaded := st2.GetOrCreate("chat-42")
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, "chat-42", loaded.ExternalKey)
	assert.Equal(t, "remember me", loaded.Title)
	require.Equal(t, 2, loaded.MessageCount())
	assert.Equal(t, "PythonExpert", loaded.Messages()[1].Name)
}

func TestStoreInMemoryOnly(t *testing.T) {
	st := NewSessionStore("")
	s := st.GetOrCreate("mem-1")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "hi"})

	require.NoError(t, st.Save("mem-1"))

	st2 := NewSessionStore("")
	assert.Equal(t, 0, st2.GetOrCreate("mem-1").MessageCount())
}

func TestStoreSaveUnknownKey(t *testing.T) {
	st := NewSessionStore(t.TempDir())
	err := st.Save("never-created")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	st := NewSessionStore(t.TempDir())
	for _, key := range []string{"", "../escape", "a/b", `a\b`, "nul\x00byte"} {
		assert.Error(t, st.Save(key), "key %q", key)
	}
}

func TestStoreDelete(t *testing.T) {
	dir := t.TempDir()
	st := NewSessionStore(dir)
	st.GetOrCreate("gone")
	require.NoError(t, st.Save("gone"))

	require.NoError(t, st.Delete("gone"))
	assert.Equal(t, 0, st.Count())
	_, err := os.Stat(filepath.Join(dir, "gone.json"))
	assert.True(t, os.IsNotExist(err))

	err = st.Delete("gone")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStoreListOrder(t *testing.T) {
	st := NewSessionStore("")
	old := st.GetOrCreate("old")
	fresh := st.GetOrCreate("fresh")
	old.UpdatedAt = time.Now().Add(-time.Hour)
	fresh.UpdatedAt = time.Now()

	infos := st.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "fresh", infos[0].ExternalKey)
	assert.Equal(t, "old", infos[1].ExternalKey)
}

func TestStoreReap(t *testing.T) {
	dir := t.TempDir()
	st := NewSessionStore(dir)

	stale := st.GetOrCreate("stale")
	require.NoError(t, st.Save("stale"))
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)

	live := st.GetOrCreate("live")
	live.UpdatedAt = time.Now()

	assert.Equal(t, 1, st.Reap(time.Hour))
	assert.Equal(t, 1, st.Count())
	_, err := st.Get("stale")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, statErr := os.Stat(filepath.Join(dir, "stale.json"))
	assert.True(t, os.IsNotExist(statErr), "reap must remove the session file")

	assert.Equal(t, 0, st.Reap(time.Hour))
}
