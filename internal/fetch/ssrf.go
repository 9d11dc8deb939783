package fetch

import (
	"net/url"
	"strings"
)

var allowedSchemes = map[string]bool{"http": true, "https": true}

var blockedHosts = map[string]bool{
	"localhost": true,
	"0.0.0.0":   true,
	"127.0.0.1": true,
}

var privatePrefixes = []string{
	"10.",
	"172.16.", "172.17.", "172.18.", "172.19.",
	"172.20.", "172.21.", "172.22.", "172.23.",
	"172.24.", "172.25.", "172.26.", "172.27.",
	"172.28.", "172.29.", "172.30.", "172.31.",
	"192.168.",
	"169.254.",
}

// ValidateURL enforces the SSRF guard: scheme restricted to http/https,
// hostname non-empty, localhost and the private IPv4 ranges rejected
// outright, and, when allowedHosts is non-empty, the hostname (or its
// www.-stripped form) must appear in it.
func ValidateURL(rawURL string, allowedHosts map[string]bool) bool {
	return validateURL(rawURL, allowedHosts, false)
}

func validateURL(rawURL string, allowedHosts map[string]bool, allowLoopback bool) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if !allowedSchemes[u.Scheme] {
		return false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return false
	}

	if !allowLoopback {
		if blockedHosts[hostname] {
			return false
		}
		for _, prefix := range privatePrefixes {
			if strings.HasPrefix(hostname, prefix) {
				return false
			}
		}
	}

	if len(allowedHosts) == 0 {
		return true
	}

	if allowedHosts[hostname] {
		return true
	}
	if stripped := strings.TrimPrefix(hostname, "www."); stripped != hostname {
		return allowedHosts[stripped]
	}
	return false
}
