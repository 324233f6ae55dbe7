// Package metadata normalizes proxy-chain request headers into an anonymized
// client identity used for analytics reporting.
//
// The service normally sits behind Cloudflare and one or more reverse
// proxies, so RemoteAddr is never the viewer. Every forwarding header is
// collected instead, most-trusted edge first, and consumers filter the list
// down to globally routable addresses.
package metadata

import (
	"net/http"
	"net/netip"
	"strings"
)

// Header names inspected, in precedence order.
const (
	HeaderCFConnectingIP   = "CF-Connecting-IP"
	HeaderCFConnectingIPv6 = "CF-Connecting-IPv6"
	HeaderForwardedFor     = "X-Forwarded-For"
	HeaderForwarded        = "Forwarded"
	HeaderRealIP           = "X-Real-IP"
)

// ClientMetadata is the normalized identity of the requesting client. It is
// built once per request and never mutated afterwards.
type ClientMetadata struct {
	UserAgent    string
	CandidateIPs []netip.Addr
}

var documentationPrefixes = []netip.Prefix{
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
}

var broadcastV4 = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// FromHeaders builds ClientMetadata from the full inbound header set.
func FromHeaders(h http.Header) ClientMetadata {
	md := ClientMetadata{UserAgent: h.Get("User-Agent")}

	for _, v := range h.Values(HeaderCFConnectingIP) {
		md.CandidateIPs = appendAddr(md.CandidateIPs, v)
	}
	for _, v := range h.Values(HeaderCFConnectingIPv6) {
		md.CandidateIPs = appendAddr(md.CandidateIPs, v)
	}
	for _, v := range h.Values(HeaderForwardedFor) {
		for _, part := range strings.Split(v, ",") {
			md.CandidateIPs = appendAddr(md.CandidateIPs, part)
		}
	}
	for _, v := range h.Values(HeaderForwarded) {
		for _, node := range forwardedNodes(v) {
			md.CandidateIPs = appendAddr(md.CandidateIPs, node)
		}
	}
	for _, v := range h.Values(HeaderRealIP) {
		md.CandidateIPs = appendAddr(md.CandidateIPs, v)
	}
	return md
}

// PublicIPs returns the candidates that are globally routable, in order.
func (m ClientMetadata) PublicIPs() []netip.Addr {
	out := make([]netip.Addr, 0, len(m.CandidateIPs))
	for _, addr := range m.CandidateIPs {
		if IsPublic(addr) {
			out = append(out, addr)
		}
	}
	return out
}

// ForwardedFor joins the public candidates with commas, suitable for an
// outbound X-Forwarded-For header. It is empty when nothing survives the
// filter.
func (m ClientMetadata) ForwardedFor() string {
	public := m.PublicIPs()
	parts := make([]string, len(public))
	for i, addr := range public {
		parts[i] = addr.String()
	}
	return strings.Join(parts, ",")
}

// FirstPublicIP returns the most trusted public candidate, if any.
func (m ClientMetadata) FirstPublicIP() (netip.Addr, bool) {
	for _, addr := range m.CandidateIPs {
		if IsPublic(addr) {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// IsPublic reports whether addr should be forwarded as a real client address.
// IPv6 link-local and unique-local addresses are deliberately kept.
func IsPublic(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if addr.Is4() {
		switch {
		case addr.IsPrivate(),
			addr.IsLoopback(),
			addr.IsLinkLocalUnicast(),
			addr.IsUnspecified(),
			addr.IsMulticast(),
			addr == broadcastV4:
			return false
		}
		for _, p := range documentationPrefixes {
			if p.Contains(addr) {
				return false
			}
		}
		return true
	}
	return !addr.IsLoopback() && !addr.IsMulticast() && !addr.IsUnspecified()
}

func appendAddr(dst []netip.Addr, raw string) []netip.Addr {
	if addr, ok := parseAddr(raw); ok {
		return append(dst, addr)
	}
	return dst
}

// parseAddr accepts bare addresses, bracketed IPv6, and host:port forms.
// IPv4-mapped IPv6 addresses come back as plain IPv4.
func parseAddr(raw string) (netip.Addr, bool) {
	addr, ok := parseRawAddr(raw)
	return addr.Unmap(), ok
}

func parseRawAddr(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"`)
	if s == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, true
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), true
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		if addr, err := netip.ParseAddr(s[1 : len(s)-1]); err == nil {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// forwardedNodes extracts every for= value from an RFC 7239 Forwarded header
// value, e.g. `for=192.0.2.60;proto=http, for="[2001:db8::1]:4711"`.
func forwardedNodes(v string) []string {
	var nodes []string
	for _, element := range strings.Split(v, ",") {
		for _, pair := range strings.Split(element, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			nodes = append(nodes, strings.TrimSpace(value))
		}
	}
	return nodes
}
