// Package transport decides which upstream client fetches a given target.
package transport

import (
	"strings"
)

// DefaultRawSocketPort is the non-standard port whose origins only answer the raw client.
const DefaultRawSocketPort = 2228

// Kind identifies an upstream transport.
type Kind int

const (
	// Native uses the net/http client.
	Native Kind = iota
	// RawSocket uses the hand-rolled HTTP/1.1 client over a byte stream.
	RawSocket
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case RawSocket:
		return "raw_socket"
	default:
		return "native"
	}
}

// Selector holds the transport policy: a raw-socket port and a denylist of CDN
// hosts that reject requests coming through the native client.
type Selector struct {
	rawPort int
	hosts   map[string]bool
}

// NewSelector builds a Selector. A zero rawPort means DefaultRawSocketPort.
// Host entries are matched case-insensitively, exactly or as a parent domain.
func NewSelector(rawPort int, hosts []string) *Selector {
	if rawPort == 0 {
		rawPort = DefaultRawSocketPort
	}
	m := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			m[h] = true
		}
	}
	return &Selector{rawPort: rawPort, hosts: m}
}

// Select returns RawSocket for the raw port or a denylisted host, Native otherwise.
func (s *Selector) Select(host string, port int) Kind {
	if port == s.rawPort {
		return RawSocket
	}
	if s.denied(host) {
		return RawSocket
	}
	return Native
}

func (s *Selector) denied(host string) bool {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	for h != "" {
		if s.hosts[h] {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			return false
		}
		h = h[i+1:]
	}
	return false
}

// RawPort returns the port that always selects RawSocket.
func (s *Selector) RawPort() int { return s.rawPort }

// Hosts returns the number of denylisted hosts.
func (s *Selector) Hosts() int { return len(s.hosts) }
