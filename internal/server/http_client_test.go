package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/model-hub/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	assert.Zero(t, client.Timeout, "client must not bound the whole transfer")
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok, "expected *http.Transport, got %T", client.Transport)
	assert.Equal(t, 45*time.Second, transport.ResponseHeaderTimeout)
}

func TestNewUpstreamClientDefaults(t *testing.T) {
	client := NewUpstreamClient(nil)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok, "expected *http.Transport, got %T", client.Transport)
	assert.Equal(t, 30*time.Second, transport.ResponseHeaderTimeout)
	assert.True(t, transport.DisableCompression, "compression must stay disabled so Content-Length survives")
	assert.NotSame(t, defaultTransport, transport, "each client should own a cloned transport")
	assert.Equal(t, 30*time.Second, UpstreamTimeout(nil))
}
