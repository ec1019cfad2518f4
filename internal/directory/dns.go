package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/dnstxt"
)

// DNS resolves keys from TXT records at <handle>._hermkey.<domain>. The
// strings of the first TXT answer are concatenated and base64 decoded.
type DNS struct {
	client *dnstxt.Client
	domain string
}

// NewDNS creates a resolver for keys published under domain.
func NewDNS(client *dnstxt.Client, domain string) *DNS {
	return &DNS{client: client, domain: domain}
}

// LookupPublicKey implements the key directory contract. NXDOMAIN or an
// empty answer is reported as not found, not as an error.
func (d *DNS) LookupPublicKey(ctx context.Context, handle string) ([]byte, bool, error) {
	if err := CheckHandle(handle); err != nil {
		return nil, false, err
	}

	name := KeyRecordName(handle, d.domain)
	value, err := d.client.LookupJoined(ctx, name)
	if errors.Is(err, dnstxt.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "directory.DNS.LookupPublicKey",
			"handle":   handle,
		}).Debug("No key record")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, false, fmt.Errorf("key record %s is not base64: %w", name, err)
	}
	if len(key) == 0 {
		return nil, false, nil
	}

	return key, true, nil
}
