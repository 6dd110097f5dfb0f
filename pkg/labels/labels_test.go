package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWildcard(t *testing.T) {
	tests := []struct {
		name       string
		lbl        map[string]string
		defaultVal bool
		expected   bool
	}{
		{name: "absent falls back to default true", lbl: map[string]string{}, defaultVal: true, expected: true},
		{name: "absent falls back to default false", lbl: map[string]string{}, defaultVal: false, expected: false},
		{name: "true lowercase", lbl: map[string]string{KeyDNSWildcard: "true"}, expected: true},
		{name: "1", lbl: map[string]string{KeyDNSWildcard: "1"}, expected: true},
		{name: "yes mixed case", lbl: map[string]string{KeyDNSWildcard: "YES"}, expected: true},
		{name: "false", lbl: map[string]string{KeyDNSWildcard: "false"}, defaultVal: true, expected: false},
		{name: "garbage value", lbl: map[string]string{KeyDNSWildcard: "banana"}, defaultVal: true, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Wildcard(tt.lbl, tt.defaultVal))
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain(map[string]string{KeyDNSDomain: "example.com"}, KeyDNSDomain, "local"))
	assert.Equal(t, "local", Domain(map[string]string{}, KeyDNSDomain, "local"))
	assert.Equal(t, "local", Domain(map[string]string{KeyDNSDomain: "  "}, KeyDNSDomain, "local"))
}

func TestAliases(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Aliases(map[string]string{KeyDNSAliases: "a, b,c"}))
	assert.Nil(t, Aliases(map[string]string{}))
	assert.Nil(t, Aliases(map[string]string{KeyDNSAliases: "  ,  "}))
}

func TestParseHTTPEntry(t *testing.T) {
	target, err := ParseHTTPEntry("tomcat.my.local.env:8080")
	assert.NoError(t, err)
	assert.Equal(t, HTTPTarget{Host: "tomcat.my.local.env", Port: "8080"}, target)

	_, err = ParseHTTPEntry("no-port")
	assert.Error(t, err)
}

func TestParseTCPEntry(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected TCPTarget
		wantErr  bool
	}{
		{
			name:     "triple colon preferred",
			raw:      "redis.my.local.env:1234:6379",
			expected: TCPTarget{Host: "redis.my.local.env", FrontPort: "1234", BackPort: "6379"},
		},
		{
			name:     "double colon falls back to front==back",
			raw:      "redis.my.local.env:6379",
			expected: TCPTarget{Host: "redis.my.local.env", FrontPort: "6379", BackPort: "6379"},
		},
		{
			name:    "malformed",
			raw:     "redis.my.local.env",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := ParseTCPEntry(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, target)
		})
	}
}

func TestStripWildcardPrefix(t *testing.T) {
	host, wildcard := StripWildcardPrefix("*.tomcat.my.local.env")
	assert.Equal(t, "tomcat.my.local.env", host)
	assert.True(t, wildcard)

	host, wildcard = StripWildcardPrefix("tomcat.my.local.env")
	assert.Equal(t, "tomcat.my.local.env", host)
	assert.False(t, wildcard)
}

func TestNormalizeAlias(t *testing.T) {
	tests := []struct {
		name     string
		alias    string
		domain   string
		wantBare string
		wantFQDN string
	}{
		{name: "bare alias", alias: "www", domain: "my.local.env", wantBare: "www", wantFQDN: "www.my.local.env"},
		{name: "wildcard-prefixed alias", alias: "*.www", domain: "my.local.env", wantBare: "www", wantFQDN: "www.my.local.env"},
		{name: "dot-prefixed alias", alias: ".www", domain: "my.local.env", wantBare: "www", wantFQDN: "www.my.local.env"},
		{name: "already fully qualified", alias: "www.my.local.env", domain: "my.local.env", wantBare: "www", wantFQDN: "www.my.local.env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bare, fqdn := NormalizeAlias(tt.alias, tt.domain)
			assert.Equal(t, tt.wantBare, bare)
			assert.Equal(t, tt.wantFQDN, fqdn)
		})
	}
}
