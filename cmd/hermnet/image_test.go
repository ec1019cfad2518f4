package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/hermnet/internal/config"
	"github.com/faanross/hermnet/internal/spec"
	"github.com/faanross/hermnet/internal/stego"
	"github.com/faanross/hermnet/internal/transport"
)

func TestCarrierFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packet.png")
	packet, err := stego.Embed(stego.DefaultCarrier(), []byte("hidden"), stego.EmbedOptions{AddNoisePadding: true})
	require.NoError(t, err)

	require.NoError(t, writeCarrier(path, packet, spec.COVER_WIDTH))

	carrier, width, err := readCarrier(path)
	require.NoError(t, err)
	assert.Equal(t, spec.COVER_WIDTH, width)
	assert.Equal(t, packet, carrier)

	payload, err := stego.Extract(carrier, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("hidden"), payload)
}

func TestNewTransport(t *testing.T) {
	cfg := config.DefaultClient()
	assert.IsType(t, &transport.HTTP{}, newTransport(cfg))

	cfg.Transport = config.TransportDNS
	assert.IsType(t, &transport.DNS{}, newTransport(cfg))

	cfg.Transport = config.TransportMemory
	assert.IsType(t, &transport.Memory{}, newTransport(cfg))
}
