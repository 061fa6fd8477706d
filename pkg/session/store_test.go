package session

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

func teacher() *types.User {
	return &types.User{ID: 3, Username: "li", Email: "li@example.edu", Role: types.UserRoleTeacher}
}

func TestStore_MemoryOnly(t *testing.T) {
	store := NewStore()
	assert.False(t, store.IsAuthenticated())
	_, ok := store.Current()
	assert.False(t, ok)

	require.NoError(t, store.Set(teacher()))
	assert.True(t, store.IsAuthenticated())
	assert.True(t, store.HasRole(types.UserRoleTeacher))
	assert.False(t, store.HasRole(types.UserRoleStudent))
	assert.Empty(t, store.Path())

	user, ok := store.Current()
	require.True(t, ok)
	user.Username = "mutated"
	again, _ := store.Current()
	assert.Equal(t, "li", again.Username, "Current must return a copy")

	assert.Error(t, store.Set(nil))
}

func TestStore_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(teacher()))
	require.NoError(t, store.SaveCookies(store.Generation(), "http://localhost:5000/", []Cookie{{Name: "session", Value: "abc"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePermissions), info.Mode().Perm())
	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(dirPermissions), dirInfo.Mode().Perm())

	reloaded, err := Open(path)
	require.NoError(t, err)
	user, ok := reloaded.Current()
	require.True(t, ok)
	assert.Equal(t, teacher(), user)

	origin, cookies := reloaded.Cookies()
	assert.Equal(t, "http://localhost:5000/", origin)
	assert.Equal(t, []Cookie{{Name: "session", Value: "abc"}}, cookies)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestStore_Update(t *testing.T) {
	store := NewStore()
	signature := "hello"
	assert.Error(t, store.Update(types.ProfileUpdate{Signature: &signature}))

	require.NoError(t, store.Set(teacher()))
	require.NoError(t, store.Update(types.ProfileUpdate{Signature: &signature}))
	user, _ := store.Current()
	assert.Equal(t, "hello", user.Signature)
	assert.Equal(t, "li", user.Username)
}

func TestStore_InvalidateNotifiesOnTransition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := Open(path)
	require.NoError(t, err)

	var calls atomic.Int32
	unsubscribe := store.OnInvalidate(func() {
		// Listeners observe the cleared state.
		assert.False(t, store.IsAuthenticated())
		calls.Add(1)
	})

	store.Invalidate()
	assert.Zero(t, calls.Load(), "no transition, no notification")

	require.NoError(t, store.Set(teacher()))
	generation := store.Generation()
	store.Invalidate()
	store.Invalidate()
	assert.Equal(t, int32(1), calls.Load())
	assert.Greater(t, store.Generation(), generation)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	unsubscribe()
	require.NoError(t, store.Set(teacher()))
	store.Invalidate()
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_StaleCookiesIgnored(t *testing.T) {
	store := NewStore()
	stale := store.Generation()
	store.Invalidate()

	require.NoError(t, store.SaveCookies(stale, "http://localhost:5000/", []Cookie{{Name: "session", Value: "old"}}))
	_, cookies := store.Cookies()
	assert.Empty(t, cookies)
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o600))
	_, err := Open(corrupt)
	assert.ErrorContains(t, err, "failed to parse session file")

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 99}`), 0o600))
	_, err = Open(future)
	assert.ErrorContains(t, err, "unsupported session file version")

	store, err := Open("")
	require.NoError(t, err)
	assert.Empty(t, store.Path())
}
