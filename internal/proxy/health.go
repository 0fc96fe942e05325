package proxy

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
)

// probeTarget is a well-known reachable endpoint for SOCKS end-to-end checks.
const probeTarget = "example.com:80"

// Checker probes a single proxy for liveness.
type Checker interface {
	Check(ctx context.Context, entry *config.ProxyEntry) error
}

// dialChecker verifies proxies by dialing. HTTP(S) proxies get a plain TCP
// connect to the proxy port; SOCKS5 proxies additionally tunnel a connection
// through the proxy so authentication failures surface here instead of at
// navigation time.
type dialChecker struct {
	timeout time.Duration
}

func (c *dialChecker) Check(ctx context.Context, entry *config.ProxyEntry) error {
	addr := net.JoinHostPort(entry.Host, fmt.Sprintf("%d", entry.Port))

	switch strings.ToLower(entry.Protocol) {
	case "socks5", "socks4":
		return c.checkSOCKS(ctx, entry, addr)
	default:
		return c.checkTCP(ctx, addr)
	}
}

func (c *dialChecker) checkTCP(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect to %s: %w", addr, err)
	}
	return conn.Close()
}

func (c *dialChecker) checkSOCKS(ctx context.Context, entry *config.ProxyEntry, addr string) error {
	var auth *xproxy.Auth
	if entry.Username != "" {
		auth = &xproxy.Auth{User: entry.Username, Password: entry.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", addr, auth, &net.Dialer{Timeout: c.timeout})
	if err != nil {
		return fmt.Errorf("socks5 dialer for %s: %w", addr, err)
	}

	cd, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		conn, err := dialer.Dial("tcp", probeTarget)
		if err != nil {
			return fmt.Errorf("socks5 tunnel via %s: %w", addr, err)
		}
		return conn.Close()
	}

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := cd.DialContext(dctx, "tcp", probeTarget)
	if err != nil {
		return fmt.Errorf("socks5 tunnel via %s: %w", addr, err)
	}
	return conn.Close()
}
