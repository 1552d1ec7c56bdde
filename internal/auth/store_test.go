package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fb_downloader/internal/domain"
)

func TestLoadToken_MissingFileIsAbsent(t *testing.T) {
	cred, ok := LoadToken(filepath.Join(t.TempDir(), "missing", "token.json"))

	assert.False(t, ok)
	assert.Empty(t, cred.AccessToken)
}

func TestLoadToken_MalformedIsAbsent(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"garbage.json": "{not json",
		"empty.json":   "",
		"notoken.json": `{"obtained_at":"2026-01-01T00:00:00Z"}`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, ok := LoadToken(path)
		assert.False(t, ok, name)
	}
}

func TestSaveToken_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	want := domain.Credential{
		AccessToken: "EAAlong",
		TokenType:   "bearer",
		ObtainedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpiresIn:   5184000,
		AppID:       "42",
	}

	require.NoError(t, SaveToken(path, want))

	got, ok := LoadToken(path)
	require.True(t, ok)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.AppID, got.AppID)
	assert.True(t, want.ObtainedAt.Equal(got.ObtainedAt))
	assert.Equal(t, int64(5184000), got.ExpiresIn)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"expires_in": 5184000`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveToken_ReplacesPreviousAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, SaveToken(path, domain.Credential{AccessToken: "old"}))
	require.NoError(t, SaveToken(path, domain.Credential{AccessToken: "new"}))

	got, ok := LoadToken(path)
	require.True(t, ok)
	assert.Equal(t, "new", got.AccessToken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveToken_FailureKeepsPreviousToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	require.NoError(t, SaveToken(path, domain.Credential{AccessToken: "old"}))

	// A directory at the target path makes the final rename fail.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0o700))
	require.Error(t, SaveToken(blocked, domain.Credential{AccessToken: "new"}))

	got, ok := LoadToken(path)
	require.True(t, ok)
	assert.Equal(t, "old", got.AccessToken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
