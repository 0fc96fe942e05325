package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL screening errors. Callers branch on these with errors.Is.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

// AllowedSchemes are the navigable schemes for target URLs. Anything else
// (file://, javascript:, data:, ...) is screened out before the browser sees
// it.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// BlockedHosts are hostnames that must never be reached from a managed page.
var BlockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// Metadata service addresses across cloud providers. Reaching any of these
// from a browser under remote control leaks instance credentials.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)
}

// ValidateURL screens a navigation target against SSRF. It rejects non-HTTP
// schemes, loopback and private ranges, link-local, cloud metadata addresses,
// and the encodings used to smuggle them past naive checks: decimal/octal/hex
// IPv4, shortened dotted forms, and IPv4-mapped IPv6. Hostnames are resolved
// and every A/AAAA record screened; a failed lookup passes, the browser will
// surface the DNS error itself.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if !AllowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if BlockedHosts[hostname] || isLocalhostHostname(hostname) {
		return ErrLocalhostBlocked
	}

	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(normalizeIPv4Mapped(ip))
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, resolved := range ips {
		if err := validateIP(normalizeIPv4Mapped(resolved)); err != nil {
			return err
		}
	}
	return nil
}

// parseIPWithNormalization parses a host as an IP, accepting the alternate
// encodings browsers honor: plain dotted decimal, a single 32-bit decimal
// (2130706433 → 127.0.0.1), octal or hex octets (0177.0.0.1, 0x7f.0.0.1), and
// the shortened two-part form (127.1). Returns nil when the host is not an IP.
func parseIPWithNormalization(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	if len(parts) == 4 {
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntWithBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	}
	if len(parts) == 2 {
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}
	return nil
}

func parseIntWithBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	// Leading zero means octal, except a bare "0".
	if strings.HasPrefix(s, "0") && len(s) > 1 && s[1] != 'x' && s[1] != 'X' {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// normalizeIPv4Mapped collapses ::ffff:x.x.x.x to its IPv4 form so the range
// checks cannot be dodged with IPv6 notation.
func normalizeIPv4Mapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

var localHostnames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"local":                 true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

func isLocalhostHostname(hostname string) bool {
	if localHostnames[hostname] {
		return true
	}
	// foo.localhost and localhost.<tld> both resolve locally.
	return strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.")
}

// isLoopbackIP covers the whole 127.0.0.0/8 range, not just 127.0.0.1.
func isLoopbackIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

func validateIP(ip net.IP) error {
	if isLoopbackIP(ip) {
		return ErrLocalhostBlocked
	}
	if ip.IsPrivate() {
		return ErrPrivateIPBlocked
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrPrivateIPBlocked
	}
	if isCloudMetadataIP(ip) {
		return ErrMetadataBlocked
	}
	if ip.IsUnspecified() {
		return ErrPrivateIPBlocked
	}
	return nil
}

func isCloudMetadataIP(ip net.IP) bool {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			return true
		}
	}
	return false
}

// Proxy URL validation errors.
var (
	ErrInvalidProxyURL    = errors.New("invalid proxy URL")
	ErrBlockedProxyScheme = errors.New("proxy URL scheme not allowed (must be http, https, socks4, or socks5)")
)

// AllowedProxySchemes are the schemes accepted for upstream proxies.
var AllowedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// ValidateProxyURL screens a proxy endpoint. Unlike ValidateURL it accepts
// SOCKS schemes, and allowPrivateIPs opts local proxies back in since running
// one on the same host is a normal deployment. An empty URL is valid and
// means no proxy. Hostnames are not resolved here: the browser resolves
// through the proxy itself.
func ValidateProxyURL(proxyURL string, allowPrivateIPs bool) error {
	if proxyURL == "" {
		return nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return ErrInvalidProxyURL
	}
	if !AllowedProxySchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedProxyScheme
	}
	if parsed.Host == "" {
		return ErrInvalidProxyURL
	}
	if allowPrivateIPs {
		return nil
	}

	hostname := strings.ToLower(parsed.Hostname())
	if BlockedHosts[hostname] || isLocalhostHostname(hostname) {
		return ErrLocalhostBlocked
	}
	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(normalizeIPv4Mapped(ip))
	}
	return nil
}

// SanitizeCookieDomain clamps a cookie domain to the page's host. The domain
// survives only when it equals the host or is a parent suffix with at least
// two labels; anything else, including an attempt to set a TLD-wide cookie,
// is rewritten to the host.
func SanitizeCookieDomain(domain string, targetHost string) string {
	if domain == "" {
		return targetHost
	}
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	targetHost = strings.ToLower(targetHost)

	if domain == targetHost {
		return domain
	}
	if strings.HasSuffix(targetHost, "."+domain) {
		if strings.Count(domain, ".") < 1 {
			return targetHost
		}
		return domain
	}
	return targetHost
}
