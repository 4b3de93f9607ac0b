package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	client := New(30*time.Second, Options{})

	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.Equal(t, 10, client.maxRedirects)
	assert.True(t, client.blockPrivateIP)
	assert.Equal(t, DefaultUserAgent, client.userAgent)
	assert.Equal(t, []string{"http", "https"}, client.allowedSchemes)
}

func TestValidateURL(t *testing.T) {
	client := New(30*time.Second, Options{})

	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{"reddit api", "https://www.reddit.com/search.json?q=go", ""},
		{"algolia", "https://hn.algolia.com/api/v1/search", ""},
		{"openrouter", "https://openrouter.ai/api/v1/chat/completions", ""},
		{"file scheme", "file:///etc/passwd", "not allowed"},
		{"gopher scheme", "gopher://example.com", "not allowed"},
		{"localhost", "http://localhost:8080/", "localhost"},
		{"sub localhost", "http://api.localhost/", "localhost"},
		{"loopback", "http://127.0.0.1/", "private IP"},
		{"rfc1918", "http://10.1.2.3/", "private IP"},
		{"metadata service", "http://169.254.169.254/latest/meta-data", "private IP"},
		{"cgnat", "http://100.64.0.1/", "private IP"},
		{"ipv6 loopback", "http://[::1]/", "private IP"},
		{"userinfo", "http://evil.com@example.com/", "userinfo"},
		{"missing host", "http:///path", "hostname"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"8.8.8.8", false},
		{"151.101.1.140", false},
		{"192.168.1.1", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, isPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}

func TestRedirectToPrivateAddressBlocked(t *testing.T) {
	client := New(5*time.Second, Options{})
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1/admin", nil)
	require.NoError(t, err)

	err = client.CheckRedirect(req, []*http.Request{{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect blocked")
}

func TestMaxRedirects(t *testing.T) {
	client := New(5*time.Second, Options{MaxRedirects: 2})
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	assert.NoError(t, client.CheckRedirect(req, []*http.Request{{}}))
	err = client.CheckRedirect(req, []*http.Request{{}, {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}

func TestDialBlocksPrivateResolution(t *testing.T) {
	client := New(5*time.Second, Options{})
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)

	_, err := transport.DialContext(context.Background(), "tcp", "127.0.0.1:80")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private IP address blocked")
}

func TestDo_SetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(5*time.Second, Options{AllowPrivateIP: true, UserAgent: "keywatch-test"})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "keywatch-test", gotUA)
}

func TestDo_BlocksLocalhostByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	client := New(5*time.Second, Options{})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSRF")
}
