package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoadPath(t *testing.T) {
	raw := `
env: dev
http:
  address: ":9999"
signaling:
  url: "ws://relay:9090/ws"
  user_id: "alice"
assist:
  base_url: "http://ai:8000"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg := MustLoadPath(path)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":9999", cfg.HTTP.Address)
	assert.Equal(t, "ws://relay:9090/ws", cfg.Signaling.URL)
	assert.Equal(t, "alice", cfg.Signaling.UserID)
	assert.Equal(t, "http://ai:8000", cfg.Assist.BaseURL)

	// gaps are filled with usable defaults
	assert.NotEmpty(t, cfg.WebRTC.STUNServers)
	assert.Equal(t, 30*time.Second, cfg.Assist.BufferWindow)
	assert.Equal(t, 5, cfg.Signaling.MaxRetries)
}

func TestMustLoadPathMissingFile(t *testing.T) {
	assert.Panics(t, func() {
		MustLoadPath(filepath.Join(t.TempDir(), "nope.yaml"))
	})
}
