// Package middleware holds the HTTP middleware chain: request logging, tracing, metrics, rate
// limiting and the session gate.
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	identitydomain "coachhub/internal/identity/domain"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	clientIPKey = contextKey{"client_ip"}
	tokenKey    = contextKey{"session_token"}
)

// WithIdentity returns a context carrying the resolved identity and the raw session token it came from.
func WithIdentity(ctx context.Context, ident *identitydomain.Identity, token string) context.Context {
	ctx = context.WithValue(ctx, identityKey, ident)
	return context.WithValue(ctx, tokenKey, token)
}

// IdentityFromContext returns the identity set by the gate, if any.
func IdentityFromContext(ctx context.Context) (*identitydomain.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(*identitydomain.Identity)
	return ident, ok && ident != nil
}

// SessionTokenFromContext returns the raw session token of the resolved identity.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	return v, ok && v != ""
}

// WithClientIP stores ip in ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the client IP recorded by the request logger, or "unknown".
// It matches audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP headers are believed. A nil
// *TrustedProxies trusts nobody, so the client IP is always the connection's remote address.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies parses IP addresses and CIDR ranges (e.g. "10.0.0.0/8", "127.0.0.1").
// An empty list returns nil.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	var t TrustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			t.prefixes = append(t.prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		t.prefixes = append(t.prefixes, netip.PrefixFrom(a, a.BitLen()))
	}
	if len(t.prefixes) == 0 {
		return nil, nil
	}
	return &t, nil
}

func (t *TrustedProxies) trusts(host string) bool {
	if t == nil {
		return false
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP returns the client IP for r. Forwarding headers (first X-Forwarded-For hop, then
// X-Real-IP) are honored only when the remote address is a trusted proxy; otherwise the remote
// address host is used. Returns "unknown" when there is no remote address.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	remote := remoteHost(r)
	if !t.trusts(remote) {
		return remote
	}
	if s := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	return remote
}

// requestClientIP returns the IP recorded by the request logger, falling back to the remote address.
func requestClientIP(r *http.Request) string {
	if v, ok := r.Context().Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
