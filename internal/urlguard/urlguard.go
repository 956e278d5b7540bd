// Package urlguard rejects navigation targets on private networks, so an
// agent cannot steer a browser at services reachable only from the host.
package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrUnsafeScheme is returned for anything but http and https.
	ErrUnsafeScheme = errors.New("urlguard: only http and https URLs are allowed")
	// ErrPrivateAddress is returned when the host is or resolves to a
	// loopback, link-local or private address.
	ErrPrivateAddress = errors.New("urlguard: URL targets a private or loopback address")
)

var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// Resolver is the subset of net.Resolver the guard needs.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Guard checks URLs before navigation.
type Guard struct {
	Resolver Resolver
}

// New returns a guard using the default resolver.
func New() *Guard { return &Guard{Resolver: net.DefaultResolver} }

// Check validates rawURL. Hostnames are resolved and every address must be
// public. A failed lookup passes; the browser reports the network error.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlguard: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("urlguard: URL has no host")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrPrivateAddress
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivate(addr) {
			return ErrPrivateAddress
		}
		return nil
	}

	addrs, err := g.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && IsPrivate(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, a)
		}
	}
	return nil
}

// IsPrivate reports whether addr is loopback, link-local, unspecified or in
// a private range.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
