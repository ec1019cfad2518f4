package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"), filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)

	assert.Equal(t, DefaultClient(), cfg)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "handle has no default")

	cfg.Handle = "alice"
	assert.NoError(t, cfg.Validate())
}

func TestLoadClientLayers(t *testing.T) {
	path := writeFile(t, "hermnet.yaml", `
handle: alice
crypto: box
transport: dns
mailbox:
  url: http://relay:8080
dns:
  server: 10.0.0.53:53
  domain: mail.example.org
contacts:
  dns: true
inbox:
  policy: skip
log:
  level: debug
`)
	envFile := writeFile(t, ".env", "HERMNET_MAILBOX_TOKEN=from-dotenv\nHERMNET_HISTORY_FILE=dotenv.json\n")
	t.Cleanup(func() {
		os.Unsetenv("HERMNET_MAILBOX_TOKEN")
	})
	t.Setenv("HERMNET_HISTORY_FILE", "env.json")
	t.Setenv("HERMNET_CRYPTO", "rsa")

	cfg, err := LoadClient(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Handle)
	assert.Equal(t, "rsa", cfg.Crypto, "environment beats yaml")
	assert.Equal(t, TransportDNS, cfg.Transport)
	assert.Equal(t, "http://relay:8080", cfg.Mailbox.URL)
	assert.Equal(t, "from-dotenv", cfg.Mailbox.Token)
	assert.Equal(t, "env.json", cfg.History.File, "real environment beats .env")
	assert.Equal(t, "mail.example.org", cfg.DNS.Domain)
	assert.True(t, cfg.Contacts.DNS)
	assert.Equal(t, PolicySkip, cfg.Inbox.Policy)
	assert.Equal(t, "private.key", cfg.Keys.PrivateKeyFile, "unset keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadClientErrors(t *testing.T) {
	_, err := LoadClient(writeFile(t, "bad.yaml", "handle: [unterminated"), "")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("HERMNET_CONTACTS_DNS", "maybe")
	_, err = LoadClient("", "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClientValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Client)
	}{
		{"bad handle", func(c *Client) { c.Handle = "bob smith" }},
		{"unknown crypto", func(c *Client) { c.Crypto = "rot13" }},
		{"unknown transport", func(c *Client) { c.Transport = "carrier-pigeon" }},
		{"http without url", func(c *Client) { c.Mailbox.URL = "" }},
		{"dns without server", func(c *Client) { c.Transport = TransportDNS; c.DNS.Server = "" }},
		{"contacts dns without domain", func(c *Client) { c.Contacts.DNS = true; c.DNS.Domain = "" }},
		{"unknown policy", func(c *Client) { c.Inbox.Policy = "retry" }},
		{"bad log level", func(c *Client) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Client) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClient()
			cfg.Handle = "alice"
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := DefaultClient()
	cfg.Handle = "alice"
	cfg.Transport = TransportMemory
	cfg.Mailbox.URL = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadServer(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("public key bytes"))
	path := writeFile(t, "server.yaml", `
http_addr: ":9090"
domain: mail.example.org
retention: 12h
keys:
  bob: `+key+`
`)
	t.Setenv("HERMNET_CLEAN_INTERVAL", "10m")

	cfg, err := LoadServer(path, "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, ":5353", cfg.DNSAddr)
	assert.Equal(t, 12*time.Hour, cfg.Retention)
	assert.Equal(t, 10*time.Minute, cfg.CleanInterval)

	keys, err := cfg.PublicKeys()
	require.NoError(t, err)
	assert.Equal(t, []byte("public key bytes"), keys["bob"])
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{"no listeners", func(s *Server) { s.HTTPAddr, s.DNSAddr = "", "" }},
		{"no domain", func(s *Server) { s.Domain = "." }},
		{"zero retention", func(s *Server) { s.Retention = 0 }},
		{"bad key", func(s *Server) { s.Keys = map[string]string{"bob": "%%%"} }},
		{"bad key handle", func(s *Server) { s.Keys = map[string]string{"b.b": "AAAA"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServer()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("bad duration env", func(t *testing.T) {
		t.Setenv("HERMNET_RETENTION", "forever")
		_, err := LoadServer("", "")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestSetupLogging(t *testing.T) {
	level, formatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	})

	require.NoError(t, SetupLogging(LogConfig{Level: "warn", Format: "json"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, SetupLogging(LogConfig{}))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, SetupLogging(LogConfig{Level: "loud"}))
}
