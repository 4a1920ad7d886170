package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"command_addr":    ":9999",
		"notes_url":       "http://notes.example:8099",
		"notes_login":     "bot",
		"notes_password":  "hunter2",
		"guild_id":        "1234",
		"chat_bot_token":  "tok",
		"categories":      []string{"pwn", "rev"},
		"solved_prefix":   "solved-",
		"s3_bucket":       "cold",
		"archive_url":     "https://archive.example/",
		"archive_secret":  "sssh",
		"archive_timeout": "5m",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, ":9999", cfg.CommandAddr)
		assert.Equal(t, "http://notes.example:8099", cfg.NotesURL)
		assert.Equal(t, "bot", cfg.NotesLogin)
		assert.Equal(t, "hunter2", cfg.NotesPassword)
		assert.Equal(t, "1234", cfg.GuildID)
		assert.Equal(t, "tok", cfg.ChatBotToken)
		assert.Equal(t, []string{"pwn", "rev"}, cfg.Categories)
		assert.Equal(t, "solved-", cfg.SolvedPrefix)
		assert.Equal(t, "cold", cfg.S3Bucket)
		assert.Equal(t, "https://archive.example/", cfg.ArchiveURL)
		assert.Equal(t, "sssh", cfg.ArchiveSecret)
		assert.Equal(t, 5*time.Minute, cfg.ArchiveTimeout)
	})

	t.Run("unset fields keep defaults", func(t *testing.T) {
		partial := writeTempJSON(t, map[string]any{"notes_login": "other"})
		os.Args = []string{"testbin", "-config", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "other", cfg.NotesLogin)
		assert.Equal(t, ":8080", cfg.CommandAddr)
		assert.Equal(t, "✓-", cfg.SolvedPrefix)
		assert.Equal(t, 10*time.Minute, cfg.ArchiveTimeout)
	})

	t.Run("no config flag leaves config untouched", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{}
		cfg.LoadDefaults()
		before := *cfg
		parseJson(cfg)

		assert.Equal(t, before.CommandAddr, cfg.CommandAddr)
		assert.Equal(t, before.NotesURL, cfg.NotesURL)
	})
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Duration)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"not-a-duration"`), &d))
}
