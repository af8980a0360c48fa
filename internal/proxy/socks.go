package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// ContextDialer dials outbound connections, optionally through SOCKS5.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer returns a direct dialer when socksAddr is empty and a SOCKS5
// dialer otherwise.
func NewDialer(socksAddr string) (ContextDialer, error) {
	direct := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if socksAddr == "" {
		return direct, nil
	}
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, direct)
	if err != nil {
		return nil, fmt.Errorf("socks proxy %s: %w", socksAddr, err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks proxy %s: dialer does not support contexts", socksAddr)
	}
	return cd, nil
}

// NewHTTPClient returns an HTTP client routed through socksAddr when set.
func NewHTTPClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	dialer, err := NewDialer(socksAddr)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	if socksAddr != "" {
		transport.Proxy = nil
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// NewWebsocketDialer returns a websocket dialer routed through socksAddr
// when set, or through the environment's HTTP proxy otherwise.
func NewWebsocketDialer(socksAddr string, handshakeTimeout time.Duration) (*websocket.Dialer, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	if socksAddr == "" {
		return d, nil
	}
	dialer, err := NewDialer(socksAddr)
	if err != nil {
		return nil, err
	}
	d.Proxy = nil
	d.NetDialContext = dialer.DialContext
	return d, nil
}
