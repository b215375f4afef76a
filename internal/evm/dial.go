package evm

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
)

// Dialer opens providers for a chain.
type Dialer interface {
	DialHTTP(ctx context.Context, url string) (Client, error)
	DialWS(ctx context.Context, url string) (Client, error)
}

// RPCDialer dials real JSON-RPC endpoints.
type RPCDialer struct {
	HandshakeTimeout time.Duration
}

// DialHTTP opens an HTTP provider.
func (d RPCDialer) DialHTTP(ctx context.Context, url string) (Client, error) {
	rc, err := rpc.DialOptions(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("evm: dial http %s: %w", redactURL(url), err)
	}
	return ethclient.NewClient(rc), nil
}

// DialWS opens a WebSocket provider suitable for log subscriptions.
func (d RPCDialer) DialWS(ctx context.Context, url string) (Client, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	rc, err := rpc.DialOptions(ctx, url, rpc.WithWebsocketDialer(dialer))
	if err != nil {
		return nil, fmt.Errorf("evm: dial ws %s: %w", redactURL(url), err)
	}
	return ethclient.NewClient(rc), nil
}

// redactURL keeps scheme and host so API keys embedded in paths stay out of logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	return u.Scheme + "://" + u.Host
}
