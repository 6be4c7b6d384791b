package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"degreeproof/pkg/requestcontext"
)

// MaxXFFHeaderLength bounds X-Forwarded-For values that are considered at all.
const MaxXFFHeaderLength = 500

// maxUserAgentLength bounds the User-Agent kept for parsing.
const maxUserAgentLength = 512

// Config holds configuration for the metadata middleware.
type Config struct {
	// TrustedProxies may set X-Forwarded-For. Empty means XFF is never trusted.
	TrustedProxies []netip.Prefix
}

// Middleware resolves the client address and parses the User-Agent into
// requestcontext.Client, which the audit trail records for every verification.
type Middleware struct {
	config Config
}

func NewMiddleware(cfg Config) *Middleware {
	return &Middleware{config: cfg}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ParseUserAgent(r.Header.Get("User-Agent"))
		client.IP = m.extractClientIP(r)
		ctx := requestcontext.WithClient(r.Context(), client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseUserAgent extracts browser, OS and device class from a User-Agent string.
func ParseUserAgent(raw string) requestcontext.Client {
	if len(raw) > maxUserAgentLength {
		raw = raw[:maxUserAgentLength]
	}
	c := requestcontext.Client{UserAgent: raw}
	if raw == "" {
		return c
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	if browser != "" && version != "" {
		if major, _, ok := strings.Cut(version, "."); ok {
			version = major
		}
		browser = browser + " " + version
	}
	c.Browser = browser
	c.OS = ua.OS()
	c.Mobile = ua.Mobile()
	c.Bot = ua.Bot()
	return c
}

func (m *Middleware) extractClientIP(r *http.Request) string {
	remote := parseRemoteAddr(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if !m.isTrustedProxy(remote) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && len(xri) <= MaxXFFHeaderLength {
			if _, err := netip.ParseAddr(xri); err == nil {
				return xri
			}
		}
		return remote
	}
	if len(xff) > MaxXFFHeaderLength {
		return remote
	}

	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if _, err := netip.ParseAddr(first); err != nil {
		return remote
	}
	return first
}

func (m *Middleware) isTrustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range m.config.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().String()
	}
	if addr, err := netip.ParseAddr(strings.Trim(remoteAddr, "[]")); err == nil {
		return addr.String()
	}
	return remoteAddr
}
