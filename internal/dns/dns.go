package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are queried when the system resolver cannot find the relay, which
// happens on captive or misconfigured networks.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

// lookupFunc resolves host through server. An empty server means the system
// resolver.
type lookupFunc func(ctx context.Context, host, server string) ([]string, error)

// Resolver looks a host up locally first and then races the public servers.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration

	lookup lookupFunc
}

// Default is the resolver behind DialContext.
var Default = &Resolver{
	Servers:      publicDNS,
	LocalTimeout: time.Second,
	RaceTimeout:  2 * time.Second,
}

// DialContext dials addr after resolving its host with Default. It matches
// the signature websocket.Dialer.NetDialContext expects.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return Default.DialContext(ctx, network, addr)
}

func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	if net.ParseIP(host) == nil {
		ip, err := r.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		host = ip
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(host, port))
}

// Lookup returns one address for host, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.query(localCtx, host, "")
	cancel()
	if err == nil && len(ips) > 0 {
		return preferIPv4(ips), nil
	}

	return r.race(ctx, host)
}

// race queries every public server at once and takes the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no fallback servers", host)
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	type answer struct {
		ips []string
		err error
	}
	answers := make(chan answer, len(r.Servers))
	for _, server := range r.Servers {
		go func() {
			ips, err := r.query(ctx, host, server)
			answers <- answer{ips: ips, err: err}
		}()
	}

	var failures int
	for range r.Servers {
		select {
		case a := <-answers:
			if a.err == nil && len(a.ips) > 0 {
				return preferIPv4(a.ips), nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("failed to resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d fallback servers failed", host, failures)
}

func (r *Resolver) query(ctx context.Context, host, server string) ([]string, error) {
	if r.lookup != nil {
		return r.lookup(ctx, host, server)
	}
	return systemLookup(ctx, host, server)
}

func systemLookup(ctx context.Context, host, server string) ([]string, error) {
	res := net.DefaultResolver
	if server != "" {
		res = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
			},
		}
	}

	ips, err := res.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no addresses returned")
	}
	return ips, nil
}

func preferIPv4(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

func trimBrackets(server string) string {
	if len(server) > 1 && server[0] == '[' && server[len(server)-1] == ']' {
		return server[1 : len(server)-1]
	}
	return server
}
