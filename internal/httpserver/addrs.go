package httpserver

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// InterfaceAddrsFunc lists the host's interface addresses.
type InterfaceAddrsFunc func() ([]net.Addr, error)

// ListenURL is an address an operator can open to reach the server.
type ListenURL struct {
	Scope string
	URL   string
}

const (
	ScopeLocal   = "local"
	ScopeNetwork = "network"
)

// ListenURLs returns the URLs to display for a server bound to host:port.
// An unspecified host expands to every loopback and private IPv4 interface
// address; if enumeration fails it falls back to 127.0.0.1.
func ListenURLs(scheme, host string, port int, addrs InterfaceAddrsFunc) []ListenURL {
	ip := net.ParseIP(host)
	if host != "" && (ip == nil || !ip.IsUnspecified()) {
		return []ListenURL{{Scope: scopeOf(ip), URL: formatURL(scheme, host, port)}}
	}

	if addrs == nil {
		addrs = net.InterfaceAddrs
	}

	var urls []ListenURL
	for _, v4 := range privateIPv4(addrs) {
		urls = append(urls, ListenURL{Scope: scopeOf(v4), URL: formatURL(scheme, v4.String(), port)})
	}

	return urls
}

// LogListening writes one log line per display URL.
func LogListening(logger *slog.Logger, urls []ListenURL) {
	for _, u := range urls {
		logger.Info("server listening",
			slog.String("scope", u.Scope),
			slog.String("url", u.URL))
	}
}

func privateIPv4(addrs InterfaceAddrsFunc) []net.IP {
	list, err := addrs()
	if err != nil {
		return []net.IP{net.IPv4(127, 0, 0, 1).To4()}
	}

	var ips []net.IP
	for _, a := range list {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}

		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		if v4.IsPrivate() || v4.IsLoopback() {
			ips = append(ips, v4)
		}
	}

	return ips
}

func scopeOf(ip net.IP) string {
	if ip != nil && !ip.IsLoopback() {
		return ScopeNetwork
	}
	return ScopeLocal
}

func formatURL(scheme, host string, port int) string {
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}
