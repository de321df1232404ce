package transport

import (
	"testing"
)

func TestSelector_Select(t *testing.T) {
	s := NewSelector(0, []string{"cdn.blocked.example", " Edge.Example.NET. "})

	tests := []struct {
		name string
		host string
		port int
		want Kind
	}{
		{"default host and port", "cdn.example", 443, Native},
		{"raw socket port", "cdn.example", DefaultRawSocketPort, RawSocket},
		{"denylisted host", "cdn.blocked.example", 443, RawSocket},
		{"denylisted host upper case", "CDN.BLOCKED.EXAMPLE", 443, RawSocket},
		{"subdomain of denylisted host", "a.b.edge.example.net", 443, RawSocket},
		{"parent of denylisted host", "blocked.example", 443, Native},
		{"suffix without dot boundary", "notedge.example.net", 443, Native},
		{"trailing dot", "edge.example.net.", 80, RawSocket},
		{"empty host", "", 443, Native},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Select(tt.host, tt.port); got != tt.want {
				t.Errorf("Select(%q, %d) = %v, want %v", tt.host, tt.port, got, tt.want)
			}
		})
	}
}

func TestSelector_CustomPort(t *testing.T) {
	s := NewSelector(8443, nil)

	if got := s.Select("cdn.example", 8443); got != RawSocket {
		t.Errorf("Select(port 8443) = %v, want %v", got, RawSocket)
	}
	if got := s.Select("cdn.example", DefaultRawSocketPort); got != Native {
		t.Errorf("Select(port %d) = %v, want %v", DefaultRawSocketPort, got, Native)
	}
	if s.RawPort() != 8443 {
		t.Errorf("RawPort() = %d, want 8443", s.RawPort())
	}
}

func TestKind_String(t *testing.T) {
	if Native.String() != "native" {
		t.Errorf("Native.String() = %q", Native.String())
	}
	if RawSocket.String() != "raw_socket" {
		t.Errorf("RawSocket.String() = %q", RawSocket.String())
	}
}
