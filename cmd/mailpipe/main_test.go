package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/annotate"
	"github.com/nhle/mailpipe/internal/apperr"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/model"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseID(bad)
		require.Error(t, err, bad)
		assert.Equal(t, apperr.Invalid, apperr.From(err).Category, bad)
	}
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@y.org"}, splitAddresses(" a@x.com, ,b@y.org "))
	assert.Nil(t, splitAddresses(""))
}

func TestRenderInbox(t *testing.T) {
	msgs := []annotate.AnnotatedMessage{
		{
			Message: model.Message{
				ID: 7, Sender: "boss@example.com", Subject: "Quarterly numbers",
				Status: model.StatusInbox, CreatedAt: time.Now().Add(-time.Hour),
			},
			Classification: &ai.Classification{Label: ai.LabelUrgent, Confidence: 0.95},
			Summary:        "Numbers are due Friday",
		},
		{
			Message: model.Message{
				ID: 8, Sender: "shop@example.com", Subject: "Sale",
				Status: model.StatusArchived, IsRead: true, CreatedAt: time.Now(),
			},
		},
		{
			Message: model.Message{
				ID: 9, Sender: "x@example.com", Subject: "Tampered",
				Status: model.StatusInbox, CreatedAt: time.Now(),
			},
			Err: &credential.IntegrityError{Reason: "malformed encoding"},
		},
	}

	out := renderInbox(msgs)
	assert.Contains(t, out, "Quarterly numbers")
	assert.Contains(t, out, "URGENT")
	assert.Contains(t, out, "Numbers are due Friday")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "archived")
	assert.Contains(t, out, "Tampered")
	assert.Contains(t, out, "corrupt")
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd(&env{})

	for _, name := range []string{
		"login", "logout", "sync", "annotate", "backlog", "serve", "inbox",
		"archive", "trash", "restore", "read", "draft", "send", "rewrite",
		"rotate-key", "config",
	} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRewriteOffline(t *testing.T) {
	e := &env{}
	root := newRootCmd(e)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"rewrite", "--tone", "casual", "see you tomorrow",
	})
	t.Setenv("MAILPIPE_AI_PROVIDER", "local")

	require.NoError(t, root.Execute())
	assert.Equal(t, "Hey, see you tomorrow\n", out.String())
}

func TestRewriteRejectsUnknownTone(t *testing.T) {
	root := newRootCmd(&env{})
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"rewrite", "--tone", "pirate", "ahoy",
	})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, apperr.Invalid, apperr.From(err).Category)
}

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	root := newRootCmd(&env{})
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "config", "init", "--prompt=false"})
	require.NoError(t, root.Execute())

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gmail", cfg.Mailbox.Provider)
	assert.Equal(t, 25, cfg.Sync.Limit)

	root = newRootCmd(&env{})
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "config", "init", "--prompt=false"})
	err = root.Execute()
	require.Error(t, err)
	assert.Equal(t, apperr.Invalid, apperr.From(err).Category)
}
