package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsWhenFileMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"))
	ctx := context.Background()

	v, err := s.Get(ctx, KeyAutoDetectEnabled)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = s.Get(ctx, KeyShowSourceInfo)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestSetThenGet(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyAutoDetectEnabled, false))

	v, err := s.Get(ctx, KeyAutoDetectEnabled)
	require.NoError(t, err)
	assert.False(t, v)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{KeyAutoDetectEnabled: false, KeyShowSourceInfo: true}, all)
}

func TestUnknownKey(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"))
	_, err := s.Get(context.Background(), "darkMode")
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.ErrorIs(t, s.Set(context.Background(), "darkMode", true), ErrUnknownKey)
}

func TestCorruptFileReturnsDefaultWithError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autoDetectEnabled: [nope"), 0o600))

	v, err := NewFileStore(path).Get(context.Background(), KeyAutoDetectEnabled)
	assert.Error(t, err)
	assert.True(t, v)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFileStore(filepath.Join(t.TempDir(), "s.yaml")).Get(ctx, KeyShowSourceInfo)
	assert.ErrorIs(t, err, context.Canceled)
}
