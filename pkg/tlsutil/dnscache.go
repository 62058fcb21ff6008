package tlsutil

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

var (
	// Global DNS resolver with caching
	globalResolver     *dnscache.Resolver
	globalResolverOnce sync.Once
	resolverMutex      sync.RWMutex
	resolverRefreshTTL time.Duration = 5 * time.Minute
)

// GetDNSResolver returns the global DNS resolver instance with caching
func GetDNSResolver() *dnscache.Resolver {
	globalResolverOnce.Do(func() {
		resolverMutex.RLock()
		ttl := resolverRefreshTTL
		resolverMutex.RUnlock()
		initDNSResolver(ttl)
	})
	return globalResolver
}

func initDNSResolver(ttl time.Duration) {
	log.Debug().
		Dur("ttl", ttl).
		Msg("Initializing DNS resolver cache")

	globalResolver = &dnscache.Resolver{}

	go func() {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()

		for range ticker.C {
			globalResolver.Refresh(true)
		}
	}()
}

// SetDNSCacheTTL updates the DNS cache TTL. It must be called before the
// first client is created.
func SetDNSCacheTTL(ttl time.Duration) {
	resolverMutex.Lock()
	defer resolverMutex.Unlock()

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	resolverRefreshTTL = ttl
}

// DialContextWithCache is a DialContext function that uses the DNS cache
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := GetDNSResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}

// Resolver maps a controller address to the hostname reported downstream.
type Resolver struct {
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

// NewResolver returns a Resolver backed by the cached DNS resolver.
func NewResolver() *Resolver {
	return &Resolver{lookupAddr: func(ctx context.Context, addr string) ([]string, error) {
		return GetDNSResolver().LookupAddr(ctx, addr)
	}}
}

// Hostname returns the reverse-resolved name of address. Addresses that are
// already names are returned without the port. Lookup failures fall back to
// the bare address.
func (r *Resolver) Hostname(ctx context.Context, address string) string {
	host := strings.TrimSpace(address)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if net.ParseIP(host) == nil {
		return host
	}

	names, err := r.lookupAddr(ctx, host)
	if err != nil || len(names) == 0 {
		log.Debug().Err(err).Str("address", host).Msg("Reverse lookup failed, using address as hostname")
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}
