package model_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/model"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	def := model.DefaultAppConfig()
	assert.Equal(t, def.Sync, cfg.Sync)
	assert.Equal(t, def.Jobs, cfg.Jobs)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, 2*time.Minute, cfg.Sync.PollInterval)
}

func TestLoadConfigReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  path: /tmp/mail.db
mailbox:
  provider: imap
  imap:
    host: imap.example.com
sync:
  limit: 5
  poll_interval: 30s
jobs:
  workers: 2
  redis_url: redis://localhost:6379/1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mail.db", cfg.Database.Path)
	assert.Equal(t, "imap", cfg.Mailbox.Provider)
	assert.Equal(t, "imap.example.com", cfg.Mailbox.IMAP.Host)
	assert.Equal(t, 993, cfg.Mailbox.IMAP.Port)
	assert.Equal(t, 5, cfg.Sync.Limit)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 3, cfg.Jobs.MaxAttempts)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Jobs.RedisURL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MAILPIPE_VAULT_KEY", "c2VjcmV0")
	t.Setenv("MAILPIPE_AI_API_KEY", "sk-test")

	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "c2VjcmV0", cfg.Vault.Key)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
}

func TestSaveConfigOmitsVaultKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := model.DefaultAppConfig()
	cfg.Vault.Key = "c2VjcmV0"
	cfg.Vault.Generate = true
	cfg.Google.ClientID = "client"
	require.NoError(t, model.SaveConfig(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "c2VjcmV0")

	loaded, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Vault.Key)
	assert.True(t, loaded.Vault.Generate)
	assert.Equal(t, "client", loaded.Google.ClientID)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []model.Status{model.StatusInbox, model.StatusArchived, model.StatusTrashed, model.StatusDraft, model.StatusSent} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, model.Status("deleted").Valid())
}
