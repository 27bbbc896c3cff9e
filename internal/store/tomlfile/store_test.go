package tomlfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := viper.New()
	cfg.Set(PathKey, filepath.Join(t.TempDir(), "chats.toml"))

	s, err := New(cfg)
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.CreateSession(ctx, "alice", "What about plastic?")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, sess.ID, "What about plastic?", models.RoleUser))
	require.NoError(t, s.AppendMessage(ctx, sess.ID, "Rinse it first.", models.RoleAssistant))

	// A second store on the same file sees the same data.
	cfg := viper.New()
	cfg.Set(PathKey, s.Path())
	reopened, err := New(cfg)
	require.NoError(t, err)

	sessions, err := reopened.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sess.ID, sessions[0].ID)
	assert.Equal(t, "What about plastic?", sessions[0].Title)
	assert.Equal(t, sess.CreatedAt, sessions[0].CreatedAt)
	assert.True(t, sessions[0].UpdatedAt.After(sessions[0].CreatedAt))

	msgs, err := reopened.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Rinse it first.", msgs[1].Content)
	assert.Equal(t, sess.ID, msgs[1].SessionID)
}

func TestListSessionsOrderAndOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	older, err := s.CreateSession(ctx, "alice", "older")
	require.NoError(t, err)
	newer, err := s.CreateSession(ctx, "alice", "newer")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "bob", "bob's")
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)

	require.NoError(t, s.AppendMessage(ctx, older.ID, "bump", models.RoleUser))
	sessions, err = s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, older.ID, sessions[0].ID)

	_, err = s.ListSessions(ctx, " ")
	assert.ErrorIs(t, err, chat.ErrAuthRequired)
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	keep, err := s.CreateSession(ctx, "alice", "keep")
	require.NoError(t, err)
	drop, err := s.CreateSession(ctx, "alice", "drop")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, drop.ID, "hi", models.RoleUser))

	require.NoError(t, s.DeleteSession(ctx, drop.ID))
	assert.ErrorIs(t, s.DeleteSession(ctx, drop.ID), chat.ErrSessionNotFound)

	_, err = s.ListMessages(ctx, drop.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	sessions, err := s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, keep.ID, sessions[0].ID)
}

func TestValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateSession(ctx, "", "title")
	assert.ErrorIs(t, err, chat.ErrAuthRequired)

	sess, err := s.CreateSession(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, chat.DefaultTitle, sess.Title)

	assert.True(t, chat.IsValidationError(s.AppendMessage(ctx, sess.ID, "hi", models.RoleWelcome)))
	assert.True(t, chat.IsValidationError(s.AppendMessage(ctx, sess.ID, "", models.RoleUser)))
	assert.ErrorIs(t, s.AppendMessage(ctx, "missing", "hi", models.RoleUser), chat.ErrSessionNotFound)
}

func TestMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	sessions, err := s.ListSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr), "reads must not create the file")
}

func TestRejectsNewerSchemaVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("version = 99\n"), 0o600))

	_, err := s.ListSessions(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chat schema version 99")
}

func TestFilePermissions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.CreateSession(context.Background(), "alice", "private")
	require.NoError(t, err)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), ".chats-*.toml.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestConcurrentAppendsKeepEveryMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	sess, err := s.CreateSession(ctx, "alice", "busy")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendMessage(ctx, sess.ID, "msg", models.RoleUser))
		}()
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
}
