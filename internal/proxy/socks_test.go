package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHTTPClientDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewHTTPClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestNewWebsocketDialerSocks(t *testing.T) {
	d, err := NewWebsocketDialer("127.0.0.1:1080", 0)
	if err != nil {
		t.Fatalf("NewWebsocketDialer() error = %v", err)
	}
	if d.Proxy != nil {
		t.Fatalf("Proxy set with socks dialer")
	}
	if d.NetDialContext == nil {
		t.Fatalf("NetDialContext not set")
	}
	if d.HandshakeTimeout != 10*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 10s", d.HandshakeTimeout)
	}
}
