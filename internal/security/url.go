// Package security hardens outbound HTTP requests.
//
// URLGuard blocks server-side request forgery: private ranges, loopback,
// link-local addresses and cloud metadata endpoints are rejected at
// validation time and again at dial time, after DNS resolution. The
// second check matters because a hostname can pass static validation and
// then resolve to an internal address (DNS rebinding).
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ErrBlockedURL indicates a URL that must not be fetched.
var ErrBlockedURL = errors.New("blocked URL")

// metadataAddr is the cloud metadata endpoint shared by AWS, GCP and Azure.
var metadataAddr = netip.AddrFrom4([4]byte{169, 254, 169, 254})

// URLGuard validates outbound fetch targets.
type URLGuard struct {
	allowLoopback bool
	blockedHosts  map[string]struct{}
}

// GuardOption customizes a URLGuard.
type GuardOption func(*URLGuard)

// AllowLoopback permits loopback targets. Test servers bind to 127.0.0.1;
// production guards must never use this.
func AllowLoopback() GuardOption {
	return func(g *URLGuard) { g.allowLoopback = true }
}

// NewURLGuard creates a guard with the default block list.
func NewURLGuard(opts ...GuardOption) *URLGuard {
	g := &URLGuard{
		blockedHosts: map[string]struct{}{
			"localhost":                {},
			"metadata.google.internal": {},
			"metadata.gce.internal":    {},
			"metadata.internal":        {},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate statically checks a URL. Scheme must be http or https and the
// host must not be a blocked name or address. Hostnames that are not IP
// literals pass here; their resolved addresses are checked by Transport.
func (g *URLGuard) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrBlockedURL)
	}
	lower := strings.ToLower(host)
	if _, blocked := g.blockedHosts[lower]; blocked {
		if !(g.allowLoopback && lower == "localhost") {
			return fmt.Errorf("%w: host %q", ErrBlockedURL, host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return g.checkAddr(addr)
	}
	return nil
}

// checkAddr rejects addresses outside the public internet.
func (g *URLGuard) checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()

	switch {
	case addr.IsLoopback():
		if g.allowLoopback {
			return nil
		}
		return fmt.Errorf("%w: loopback address %s", ErrBlockedURL, addr)
	case addr == metadataAddr:
		return fmt.Errorf("%w: cloud metadata endpoint", ErrBlockedURL)
	case addr.IsPrivate():
		return fmt.Errorf("%w: private address %s", ErrBlockedURL, addr)
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address %s", ErrBlockedURL, addr)
	case addr.IsUnspecified():
		return fmt.Errorf("%w: unspecified address %s", ErrBlockedURL, addr)
	}
	return nil
}

// Transport returns an http.Transport whose dialer re-validates every
// resolved address before connecting.
func (g *URLGuard) Transport() *http.Transport {
	return &http.Transport{
		DialContext:         g.dialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (g *URLGuard) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if err := g.checkAddr(ip); err != nil {
			return nil, err
		}
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := g.checkAddr(ip); err != nil {
			return nil, fmt.Errorf("%s resolved to blocked address: %w", host, err)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses resolved for %s", host)
	}

	// Dial the checked address, not the hostname, so a second resolution
	// cannot swap in a different target.
	target := ips[0].Unmap().String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return (&net.Dialer{}).DialContext(ctx, network, target)
}
