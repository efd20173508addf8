package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTripVerbatim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := NewSettings(path)
	require.NoError(t, err)

	value := json.RawMessage(`{"nested":{"list":[1,2,3]},"flag":true}`)
	require.NoError(t, s.Set("complex", value))

	reloaded, err := NewSettings(path)
	require.NoError(t, err)
	got, ok := reloaded.Get("complex")
	require.True(t, ok)
	assert.JSONEq(t, string(value), string(got))
}

func TestSettingsTypedAccessors(t *testing.T) {
	s, err := NewSettings(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, s.Set("name", json.RawMessage(`"quotio"`)))
	require.NoError(t, s.Set("enabled", json.RawMessage(`true`)))

	assert.Equal(t, "quotio", s.GetString("name", "fallback"))
	assert.Equal(t, "fallback", s.GetString("missing", "fallback"))
	assert.True(t, s.GetBool("enabled", false))
	assert.False(t, s.GetBool("name", false), "type mismatch falls back")
}

func TestSettingsDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := NewSettings(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("temp", json.RawMessage(`1`)))
	require.NoError(t, s.Delete("temp"))
	_, ok := s.Get("temp")
	assert.False(t, ok)

	reloaded, err := NewSettings(path)
	require.NoError(t, err)
	_, ok = reloaded.Get("temp")
	assert.False(t, ok)
}

func TestSettingsCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	_, err := NewSettings(path)
	assert.Error(t, err)
}
