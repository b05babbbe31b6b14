// Package metadata resolves the caller's network address and user agent and
// stores them on the request context.
package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	"callgate/pkg/requestcontext"
)

// MaxForwardedHeaderLength caps X-Forwarded-For and X-Real-IP values that are
// considered at all.
const MaxForwardedHeaderLength = 500

// Middleware extracts client metadata. Forwarding headers are only honoured
// when the direct peer falls inside one of the trusted proxy prefixes.
type Middleware struct {
	trusted []netip.Prefix
}

func New(trustedProxies []netip.Prefix) *Middleware {
	return &Middleware{trusted: trustedProxies}
}

// ParseTrustedProxies parses a comma-separated CIDR list. Bare addresses are
// accepted as single-host prefixes.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, err
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), m.clientIP(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) clientIP(r *http.Request) string {
	peer, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !m.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if len(xff) > MaxForwardedHeaderLength {
			return peer.String()
		}
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
		return peer.String()
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" && len(xri) <= MaxForwardedHeaderLength {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.String()
		}
	}
	return peer.String()
}

func (m *Middleware) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range m.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(raw string) (netip.Addr, bool) {
	if raw == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(strings.Trim(raw, "[]")); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
