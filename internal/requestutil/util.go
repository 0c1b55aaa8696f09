package requestutil

import (
	"net"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

func parseIP(ipStr string) net.IP {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		log.Warnf("invalid remote IP address: %q", ipStr)
	}
	return ip
}

// RemoteAddr extracts the remote address of the request, taking into
// account proxy headers.
func RemoteAddr(r *http.Request) string {
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		remoteAddr, _, _ := strings.Cut(prior, ",")
		remoteAddr = strings.Trim(remoteAddr, " ")
		if parseIP(remoteAddr) != nil {
			return remoteAddr
		}
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		if parseIP(realIP) != nil {
			return realIP
		}
	}

	return r.RemoteAddr
}

// RemoteIP extracts the remote IP of the request, taking into account proxy
// headers.
func RemoteIP(r *http.Request) string {
	addr := RemoteAddr(r)

	if ip, _, err := net.SplitHostPort(addr); err == nil {
		return ip
	}

	return addr
}

// Scheme returns the scheme the client used to reach this registry, taking
// the X-Forwarded-Proto header into account so dist URLs generated behind a
// TLS-terminating proxy keep the outer protocol.
func Scheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Host returns the host the client addressed, honoring X-Forwarded-Host.
func Host(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		host, _, _ = strings.Cut(host, ",")
		return strings.TrimSpace(host)
	}
	return r.Host
}
