// Package proxy builds HTTP clients that tunnel through a SOCKS5 proxy.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const DefaultTimeout = 120 * time.Second

// NewSocksClient returns a client whose connections all go through the
// SOCKS5 proxy at addr. A zero timeout means DefaultTimeout.
func NewSocksClient(addr string, timeout time.Duration) (*http.Client, error) {
	if addr == "" {
		return nil, errors.New("proxy: empty socks address")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, network, target string) (net.Conn, error) {
		return dialer.Dial(network, target)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		dial = cd.DialContext
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dial,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Timeout: timeout,
	}, nil
}
