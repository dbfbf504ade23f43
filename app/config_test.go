package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
bot_token: "123:abc"
bot_name: lounge
database: [sqlite, /tmp/lounge.db]
blacklist_contact: "@owner"
enable_signing: true
allow_remove_command: true
media_limit_period: 24
sign_limit_interval: 300
secret_salt: "deadbeef"
hide_forward_from: ["@AnonBot"]
relay_workers: 4
status_listen: "127.0.0.1:8080"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, "lounge", cfg.BotName)
	assert.Equal(t, []string{"sqlite", "/tmp/lounge.db"}, cfg.Database)
	assert.Equal(t, "@owner", cfg.BlacklistContact)
	assert.True(t, cfg.EnableSigning)
	assert.True(t, cfg.AllowRemoveCommand)
	assert.Equal(t, 24, cfg.MediaLimitPeriod)
	assert.Equal(t, 300, cfg.SignLimitInterval)
	assert.Equal(t, "deadbeef", cfg.SecretSalt)
	assert.Equal(t, []string{"@AnonBot"}, cfg.HideForwardFrom)
	assert.Equal(t, 4, cfg.RelayWorkers)
	assert.Equal(t, "127.0.0.1:8080", cfg.StatusListen)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "bot_token: x\ndatabase: [json, /tmp/l.json]\n")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.SignLimitInterval, "sign limit defaults to ten minutes")
	assert.False(t, cfg.EnableSigning)
	assert.Empty(t, cfg.StatusListen)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "bot_token: [not a\n"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "database: [json, /tmp/x]\n"))
	assert.Error(t, err, "bot_token is required")

	_, err = loadConfig(writeConfig(t, "bot_token: x\n"))
	assert.Error(t, err, "database is required")
}

func TestConfig_NetworkInline(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
bot_token: x
database: [json, /tmp/l.json]
linked_network:
  books: BookBot
  tech: TechBot
`))
	require.NoError(t, err)
	n, err := cfg.network()
	require.NoError(t, err)
	assert.True(t, n.Matches(">>>/books/"))
}

func TestConfig_NetworkFile(t *testing.T) {
	netPath := filepath.Join(t.TempDir(), "network.yml")
	require.NoError(t, os.WriteFile(netPath, []byte("books: BookBot\n"), 0o600))

	cfg, err := loadConfig(writeConfig(t, "bot_token: x\ndatabase: [json, /tmp/l.json]\nlinked_network: "+netPath+"\n"))
	require.NoError(t, err)
	n, err := cfg.network()
	require.NoError(t, err)
	assert.True(t, n.Matches(">>>/books/"))
}

func TestConfig_NetworkAbsent(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "bot_token: x\ndatabase: [json, /tmp/l.json]\n"))
	require.NoError(t, err)
	n, err := cfg.network()
	require.NoError(t, err)
	assert.False(t, n.Matches(">>>/books/"))
}

func TestConfig_NetworkBadKind(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "bot_token: x\ndatabase: [json, /tmp/l.json]\nlinked_network: [a, b]\n"))
	require.NoError(t, err)
	_, err = cfg.network()
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	s, err := openStore([]string{"json", filepath.Join(dir, "l.json")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = openStore([]string{"sqlite", filepath.Join(dir, "sub", "l.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = openStore([]string{"mongodb", "whatever"})
	assert.Error(t, err)

	_, err = openStore([]string{"json"})
	assert.Error(t, err)
}

func TestQuietWriter(t *testing.T) {
	var buf bytes.Buffer
	q := quietWriter{&buf}

	line := []byte("2024/01/01 [INFO] something routine\n")
	n, err := q.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n, "dropped lines still report full length")

	_, err = q.Write([]byte("2024/01/01 [WARN] something important\n"))
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "[INFO]")
	assert.Contains(t, buf.String(), "[WARN]")
}
