package scan_test

import (
	"testing"

	"github.com/richjun-project/vibescan/internal/scan"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"Example.COM", "example.com"},
		{"  example.com  ", "example.com"},
		{"https://example.com", "example.com"},
		{"http://example.com/path/to/page?q=1", "example.com"},
		{"example.com:8443", "example.com"},
		{"example.com.", "example.com"},
		{"HTTPS://WWW.Example.com/foo#frag", "www.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, scan.NormalizeDomain(tt.in))
		})
	}
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		valid  bool
	}{
		{"example.com", true},
		{"sub.example.co.uk", true},
		{"xn--bcher-kva.example", true},
		{"a-b.example.com", true},
		{"", false},
		{"com", false},
		{"localhost", false},
		{"192.168.1.1", false},
		{"-bad.example.com", false},
		{"exa mple.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.valid, scan.IsValidDomain(tt.domain))
		})
	}
}
