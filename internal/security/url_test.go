package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	g := NewURLGuard()

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"public https", "https://example.com/profile", false},
		{"public http", "http://example.com", false},
		{"public IP", "http://93.184.216.34/page", false},
		{"ftp scheme", "ftp://example.com", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no host", "https:///path", true},
		{"localhost", "http://localhost:8080", true},
		{"loopback v4", "http://127.0.0.1/admin", true},
		{"loopback v6", "http://[::1]/admin", true},
		{"private 10", "http://10.0.0.5", true},
		{"private 172", "http://172.16.1.1", true},
		{"private 192", "http://192.168.1.1", true},
		{"link local", "http://169.254.1.1", true},
		{"cloud metadata", "http://169.254.169.254/latest/meta-data/", true},
		{"metadata hostname", "http://metadata.google.internal/computeMetadata", true},
		{"unspecified", "http://0.0.0.0", true},
		{"mapped loopback", "http://[::ffff:127.0.0.1]", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Validate(tt.url)
			if tt.blocked {
				assert.ErrorIs(t, err, ErrBlockedURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_AllowLoopback(t *testing.T) {
	g := NewURLGuard(AllowLoopback())

	assert.NoError(t, g.Validate("http://127.0.0.1:3000"))
	assert.NoError(t, g.Validate("http://localhost:3000"))

	// Only loopback is opened up.
	assert.ErrorIs(t, g.Validate("http://10.0.0.5"), ErrBlockedURL)
	assert.ErrorIs(t, g.Validate("http://169.254.169.254"), ErrBlockedURL)
}

func TestTransport_BlocksAtDialTime(t *testing.T) {
	client := &http.Client{Transport: NewURLGuard().Transport()}

	// The IP literal passes no static check here; the dialer itself must
	// reject it.
	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)

	_, err = client.Do(req) //nolint:bodyclose // request never connects
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedURL)
}

func TestTransport_AllowsLoopbackWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewURLGuard(AllowLoopback()).Transport()}
	resp, err := client.Get(srv.URL) //nolint:noctx
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
