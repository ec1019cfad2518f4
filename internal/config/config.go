// Package config loads client and relay settings from defaults, a YAML file,
// a .env file, HERMNET_* environment variables and finally command-line
// flags, in that order of precedence (flags win).
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/faanross/hermnet/internal/directory"
	"github.com/faanross/hermnet/internal/scrypto"
	"github.com/faanross/hermnet/internal/spec"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HERMNET_"

// Transport names.
const (
	TransportHTTP   = "http"
	TransportDNS    = "dns"
	TransportMemory = "memory"
)

// Inbox failure policies.
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

type MailboxConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type DNSConfig struct {
	Server string `yaml:"server"`
	Domain string `yaml:"domain"`
}

type ContactsConfig struct {
	File string `yaml:"file"`
	DNS  bool   `yaml:"dns"` // resolve unknown handles via <handle>._hermkey.<domain>
}

type HistoryConfig struct {
	File string `yaml:"file"`
}

type KeysConfig struct {
	PrivateKeyFile string `yaml:"private_key_file"`
}

type InboxConfig struct {
	Policy string `yaml:"policy"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Client configures the hermnet CLI.
type Client struct {
	Handle    string         `yaml:"handle"`
	Crypto    string         `yaml:"crypto"`
	Transport string         `yaml:"transport"`
	Mailbox   MailboxConfig  `yaml:"mailbox"`
	DNS       DNSConfig      `yaml:"dns"`
	Contacts  ContactsConfig `yaml:"contacts"`
	History   HistoryConfig  `yaml:"history"`
	Keys      KeysConfig     `yaml:"keys"`
	Inbox     InboxConfig    `yaml:"inbox"`
	Log       LogConfig      `yaml:"log"`
}

// Server configures the mailbox relay.
type Server struct {
	HTTPAddr      string            `yaml:"http_addr"`
	DNSAddr       string            `yaml:"dns_addr"`
	Domain        string            `yaml:"domain"`
	DataFile      string            `yaml:"data_file"` // empty keeps messages in memory
	Retention     time.Duration     `yaml:"retention"`
	CleanInterval time.Duration     `yaml:"clean_interval"`
	ReportEvery   time.Duration     `yaml:"report_interval"`
	Keys          map[string]string `yaml:"keys"` // handle -> base64 public key
	Log           LogConfig         `yaml:"log"`
}

// DefaultClient returns the client defaults.
func DefaultClient() *Client {
	return &Client{
		Crypto:    scrypto.NameMLKEM,
		Transport: TransportHTTP,
		Mailbox:   MailboxConfig{URL: "http://127.0.0.1:8080"},
		DNS:       DNSConfig{Server: "127.0.0.1:5353", Domain: spec.DEFAULT_DOMAIN},
		Contacts:  ContactsConfig{File: "contacts.json"},
		History:   HistoryConfig{File: "history.json"},
		Keys:      KeysConfig{PrivateKeyFile: "private.key"},
		Inbox:     InboxConfig{Policy: PolicyAbort},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultServer returns the relay defaults.
func DefaultServer() *Server {
	return &Server{
		HTTPAddr:      ":8080",
		DNSAddr:       ":5353",
		Domain:        spec.DEFAULT_DOMAIN,
		Retention:     spec.MAILBOX_RETENTION * time.Hour,
		CleanInterval: time.Hour,
		ReportEvery:   5 * time.Minute,
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// LoadClient layers path (YAML), envFile (.env) and the environment over the
// defaults. Missing files are skipped.
func LoadClient(path, envFile string) (*Client, error) {
	cfg := DefaultClient()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer is LoadClient for the relay.
func LoadServer(path, envFile string) (*Server, error) {
	cfg := DefaultServer()
	if err := readYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readYAML(path string, v any) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// loadDotEnv never overrides variables already set in the environment.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Client) applyEnv() error {
	envString("HANDLE", &c.Handle)
	envString("CRYPTO", &c.Crypto)
	envString("TRANSPORT", &c.Transport)
	envString("MAILBOX_URL", &c.Mailbox.URL)
	envString("MAILBOX_TOKEN", &c.Mailbox.Token)
	envString("DNS_SERVER", &c.DNS.Server)
	envString("DNS_DOMAIN", &c.DNS.Domain)
	envString("CONTACTS_FILE", &c.Contacts.File)
	envString("HISTORY_FILE", &c.History.File)
	envString("PRIVATE_KEY_FILE", &c.Keys.PrivateKeyFile)
	envString("INBOX_POLICY", &c.Inbox.Policy)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
	return envBool("CONTACTS_DNS", &c.Contacts.DNS)
}

func (s *Server) applyEnv() error {
	envString("HTTP_ADDR", &s.HTTPAddr)
	envString("DNS_ADDR", &s.DNSAddr)
	envString("DOMAIN", &s.Domain)
	envString("DATA_FILE", &s.DataFile)
	envString("LOG_LEVEL", &s.Log.Level)
	envString("LOG_FORMAT", &s.Log.Format)
	if err := envDuration("RETENTION", &s.Retention); err != nil {
		return err
	}
	if err := envDuration("REPORT_INTERVAL", &s.ReportEvery); err != nil {
		return err
	}
	return envDuration("CLEAN_INTERVAL", &s.CleanInterval)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = v
	}
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, name, err)
	}
	*dst = b
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// Validate checks the settings every client command relies on.
func (c *Client) Validate() error {
	if err := directory.CheckHandle(c.Handle); err != nil {
		return fmt.Errorf("%w: handle: %v", ErrInvalidConfig, err)
	}
	if _, err := scrypto.NewProvider(c.Crypto); err != nil {
		return fmt.Errorf("%w: crypto: %v", ErrInvalidConfig, err)
	}

	switch strings.ToLower(c.Transport) {
	case TransportHTTP:
		if c.Mailbox.URL == "" {
			return fmt.Errorf("%w: mailbox.url is required for the http transport", ErrInvalidConfig)
		}
	case TransportDNS:
		if c.Mailbox.URL == "" || c.DNS.Server == "" || c.DNS.Domain == "" {
			return fmt.Errorf("%w: the dns transport needs mailbox.url, dns.server and dns.domain", ErrInvalidConfig)
		}
	case TransportMemory:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	if c.Contacts.DNS && (c.DNS.Server == "" || c.DNS.Domain == "") {
		return fmt.Errorf("%w: contacts.dns needs dns.server and dns.domain", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Inbox.Policy) {
	case PolicyAbort, PolicySkip:
	default:
		return fmt.Errorf("%w: unknown inbox policy %q", ErrInvalidConfig, c.Inbox.Policy)
	}

	return c.Log.validate()
}

// Validate checks the relay settings.
func (s *Server) Validate() error {
	if s.HTTPAddr == "" && s.DNSAddr == "" {
		return fmt.Errorf("%w: at least one of http_addr and dns_addr is required", ErrInvalidConfig)
	}
	if strings.TrimSuffix(s.Domain, ".") == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidConfig)
	}
	if s.Retention <= 0 || s.CleanInterval <= 0 || s.ReportEvery <= 0 {
		return fmt.Errorf("%w: retention, clean_interval and report_interval must be positive", ErrInvalidConfig)
	}
	if _, err := s.PublicKeys(); err != nil {
		return err
	}
	return s.Log.validate()
}

// PublicKeys decodes the published key records.
func (s *Server) PublicKeys() (map[string][]byte, error) {
	keys := make(map[string][]byte, len(s.Keys))
	for handle, encoded := range s.Keys {
		if err := directory.CheckHandle(handle); err != nil {
			return nil, fmt.Errorf("%w: keys: %v", ErrInvalidConfig, err)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) == 0 {
			return nil, fmt.Errorf("%w: keys.%s is not a base64 key", ErrInvalidConfig, handle)
		}
		keys[handle] = key
	}
	return keys, nil
}

func (l LogConfig) validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
		return nil
	}
	return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, l.Format)
}
