package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// identifyingHeaders are the client headers folded into a caller key. Only
// headers that describe the client are used; nothing the caller types into
// a request body ever reaches a key.
var identifyingHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Sec-Ch-Ua",
	"Sec-Ch-Ua-Platform",
}

// CallerKey derives the limiter key of a caller from its network origin and
// a hash of its identifying headers.
func CallerKey(remoteIP string, headers http.Header) string {
	ip := canonicalIP(remoteIP)
	h := sha256.New()
	for _, name := range identifyingHeaders {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(headers.Get(name))))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return "ip:" + ip + ":h:" + hex.EncodeToString(sum[:8])
}

func canonicalIP(remoteIP string) string {
	remoteIP = strings.TrimSpace(remoteIP)
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	parsed := net.ParseIP(remoteIP)
	if parsed == nil {
		return "unknown"
	}
	return parsed.String()
}
