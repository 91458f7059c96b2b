package serviceclient

import (
	"net"
	"net/url"
)

// RewriteLoopback is a pure function over (url, hostOverride, disable)
// implementing the loopback URL rewriting contract: when a candidate base
// URL resolves to a loopback address (127.0.0.0/8, ::1, or the literal
// host "localhost") and rewriting is not disabled, its host is replaced
// with hostOverride so a step executing outside the originating
// container/pod can still reach the service. Grounded on the teacher's
// infrastructure/httputil.ClientIP loopback classification, adapted from
// inbound-request IP trust to outbound-URL rewriting.
func RewriteLoopback(rawURL, hostOverride string, disable bool) (string, error) {
	if disable || hostOverride == "" {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	host := u.Hostname()
	if !isLoopbackHost(host) {
		return rawURL, nil
	}

	port := u.Port()
	if port != "" {
		u.Host = net.JoinHostPort(hostOverride, port)
	} else {
		u.Host = hostOverride
	}
	return u.String(), nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
