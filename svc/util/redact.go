package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// RedactToken keeps only enough of a secret token to correlate log lines.
func RedactToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "[TOKEN-REDACTED]"
	}
	return token[:4] + "...[REDACTED]"
}

// RedactIP zeroes the host part of an address: last octet for IPv4, all but
// the /32 prefix for IPv6. Unparseable input is hashed.
func RedactIP(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
