package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/faanross/hermnet/internal/config"
	"github.com/faanross/hermnet/internal/directory"
	"github.com/faanross/hermnet/internal/dnstxt"
	"github.com/faanross/hermnet/internal/history"
	"github.com/faanross/hermnet/internal/pipeline"
	"github.com/faanross/hermnet/internal/scrypto"
	"github.com/faanross/hermnet/internal/transport"
)

// newService assembles the pipeline from cfg. The config must be valid.
func newService(cfg *config.Client, opts ...pipeline.Option) (*pipeline.Service, error) {
	provider, err := scrypto.NewProvider(cfg.Crypto)
	if err != nil {
		return nil, err
	}

	keys, err := newDirectory(cfg)
	if err != nil {
		return nil, err
	}

	hist, err := history.NewFile(cfg.History.File)
	if err != nil {
		return nil, err
	}

	policy, err := pipeline.ParseInboxPolicy(cfg.Inbox.Policy)
	if err != nil {
		return nil, err
	}
	opts = append([]pipeline.Option{pipeline.WithInboxPolicy(policy)}, opts...)

	return pipeline.NewService(keys, provider, newTransport(cfg), hist, opts...), nil
}

func newDirectory(cfg *config.Client) (directory.Lookup, error) {
	contacts, err := directory.NewFile(cfg.Contacts.File)
	if err != nil {
		return nil, err
	}
	if !cfg.Contacts.DNS {
		return contacts, nil
	}
	return directory.Chain{contacts, directory.NewDNS(dnstxt.NewClient(cfg.DNS.Server), cfg.DNS.Domain)}, nil
}

func newTransport(cfg *config.Client) pipeline.Transport {
	switch strings.ToLower(cfg.Transport) {
	case config.TransportDNS:
		return transport.NewDNS(dnstxt.NewClient(cfg.DNS.Server), cfg.DNS.Domain, cfg.Mailbox.URL)
	case config.TransportMemory:
		return transport.NewMemory()
	default:
		var opts []transport.HTTPOption
		if cfg.Mailbox.Token != "" {
			opts = append(opts, transport.WithTokenSource(transport.StaticToken(cfg.Mailbox.Token)))
		}
		return transport.NewHTTP(cfg.Mailbox.URL, opts...)
	}
}

// loadPrivateKey reads the key file, prompting for the passphrase when the
// file is sealed.
func loadPrivateKey(path string) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	if !scrypto.IsSealed(blob) {
		return blob, nil
	}

	passphrase, err := scrypto.ReadPassphrase("🔑 Private key passphrase: ")
	if err != nil {
		return nil, err
	}
	return scrypto.OpenPrivateKey(blob, passphrase)
}
