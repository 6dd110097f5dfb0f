package lbgen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lionelnicolas/dalidock/pkg/supervisor"
	"github.com/lionelnicolas/dalidock/pkg/types"
)

func writeTemplate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "haproxy.cfg.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("global\n"), 0644))
	return path
}

func TestGenerateHTTPBackendWithSingleServer(t *testing.T) {
	tmpl := writeTemplate(t)
	cfgPath := filepath.Join(t.TempDir(), "haproxy.cfg")
	rec := &supervisor.Recorder{}
	g := New(tmpl, cfgPath, rec)

	lb := map[string]types.LbEntry{
		"container:abc": {
			Hostname:    "tomcat-server",
			IP:          "172.17.0.2",
			Domain:      "my.local.env",
			HTTPEntries: []string{"tomcat:8080"},
		},
	}
	dns := map[string]types.DnsEntry{}

	err := g.Generate(context.Background(), lb, dns, "container:self", "172.17.0.1")
	assert.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	cfg := string(data)

	assert.Contains(t, cfg, "backend backend_http_tomcat")
	assert.Contains(t, cfg, "server tomcat-server 172.17.0.2:8080 check port 8080")
	assert.Contains(t, cfg, "use_backend backend_http_tomcat if is_tomcat")

	synthetic, ok := dns["container:self_tomcat"]
	require.True(t, ok, "lb generator must register a synthetic DNS entry for the frontend host")
	assert.Equal(t, "172.17.0.1", synthetic.IP)
	assert.Equal(t, 1, synthetic.RefCount)
}

func TestGenerateHTTPBackendWithMultipleServers(t *testing.T) {
	tmpl := writeTemplate(t)
	cfgPath := filepath.Join(t.TempDir(), "haproxy.cfg")
	rec := &supervisor.Recorder{}
	g := New(tmpl, cfgPath, rec)

	lb := map[string]types.LbEntry{
		"container:aaa": {Hostname: "tomcat-1", IP: "172.17.0.2", Domain: "my.local.env", HTTPEntries: []string{"tomcat:8080"}},
		"container:bbb": {Hostname: "tomcat-2", IP: "172.17.0.3", Domain: "my.local.env", HTTPEntries: []string{"tomcat:8080"}},
	}
	dns := map[string]types.DnsEntry{}

	err := g.Generate(context.Background(), lb, dns, "container:self", "172.17.0.1")
	assert.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	cfg := string(data)

	assert.Contains(t, cfg, "server tomcat-1 172.17.0.2:8080 check port 8080")
	assert.Contains(t, cfg, "server tomcat-2 172.17.0.3:8080 check port 8080")
}

func TestGenerateTCPFrontendAndBackend(t *testing.T) {
	tmpl := writeTemplate(t)
	cfgPath := filepath.Join(t.TempDir(), "haproxy.cfg")
	rec := &supervisor.Recorder{}
	g := New(tmpl, cfgPath, rec)

	lb := map[string]types.LbEntry{
		"container:abc": {
			Hostname:   "redis-server",
			IP:         "172.17.0.4",
			Domain:     "my.local.env",
			TCPEntries: []string{"redis:1234:6379"},
		},
	}
	dns := map[string]types.DnsEntry{}

	err := g.Generate(context.Background(), lb, dns, "container:self", "172.17.0.1")
	assert.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	cfg := string(data)

	assert.Contains(t, cfg, "frontend frontend_tcp_redis_1234")
	assert.Contains(t, cfg, "backend backend_tcp_redis_1234")
	assert.Contains(t, cfg, "balance roundrobin")
	assert.Contains(t, cfg, "server server1 172.17.0.4:6379 check port 6379")
}

func TestGenerateFlushesStaleSyntheticEntries(t *testing.T) {
	tmpl := writeTemplate(t)
	cfgPath := filepath.Join(t.TempDir(), "haproxy.cfg")
	rec := &supervisor.Recorder{}
	g := New(tmpl, cfgPath, rec)

	dns := map[string]types.DnsEntry{
		"container:self_stale-host": {Hostname: "stale-host"},
	}
	lb := map[string]types.LbEntry{}

	err := g.Generate(context.Background(), lb, dns, "container:self", "172.17.0.1")
	assert.NoError(t, err)
	_, ok := dns["container:self_stale-host"]
	assert.False(t, ok, "synthetic entries for hosts no longer present must be flushed")
}

func TestGenerateOnlyReloadsProxyWhenConfigChanges(t *testing.T) {
	tmpl := writeTemplate(t)
	cfgPath := filepath.Join(t.TempDir(), "haproxy.cfg")
	rec := &supervisor.Recorder{}
	g := New(tmpl, cfgPath, rec)

	lb := map[string]types.LbEntry{
		"container:abc": {Hostname: "tomcat", IP: "172.17.0.2", Domain: "my.local.env", HTTPEntries: []string{"tomcat:8080"}},
	}
	dns := map[string]types.DnsEntry{}

	require.NoError(t, g.Generate(context.Background(), lb, dns, "container:self", "172.17.0.1"))
	assert.Len(t, rec.ProxyConfigs, 1)

	require.NoError(t, g.Generate(context.Background(), lb, dns, "container:self", "172.17.0.1"))
	assert.Len(t, rec.ProxyConfigs, 1, "second identical cycle must not reload the proxy")
}

func TestAggregateConflictingFrontPortLastWriterWins(t *testing.T) {
	lb := map[string]types.LbEntry{
		"container:aaa": {Hostname: "a", IP: "10.0.0.1", Domain: "my.local.env", TCPEntries: []string{"first:1234:6379"}},
		"container:bbb": {Hostname: "b", IP: "10.0.0.2", Domain: "my.local.env", TCPEntries: []string{"second:1234:6380"}},
	}

	_, tcp := aggregate(lb)
	require.Len(t, tcp, 1)
	assert.Equal(t, "second", tcp[0].host, "the last LbEntry to declare a front_port wins the frontend's name")
}
