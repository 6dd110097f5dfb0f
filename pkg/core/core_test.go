package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lionelnicolas/dalidock/pkg/types"
)

// fakeGenerator lets tests observe exactly what Core hands each
// generator, and inject failures, without touching the filesystem.
type fakeGenerator struct {
	dnsGenerations int
	lbGenerations  int
	dnsErr         error
	lbErr          error
	lastDNS        map[string]types.DnsEntry
	lastLB         map[string]types.LbEntry
	order          []string
}

func (f *fakeGenerator) Generate(ctx context.Context, dns map[string]types.DnsEntry) error {
	f.dnsGenerations++
	f.lastDNS = dns
	f.order = append(f.order, "dns")
	return f.dnsErr
}

func (f *fakeGenerator) GenerateLB(ctx context.Context, lb map[string]types.LbEntry, dns map[string]types.DnsEntry, selfSourceID, selfIP string) error {
	f.lbGenerations++
	f.lastLB = lb
	f.order = append(f.order, "lb")
	return f.lbErr
}

// lbAdapter satisfies LBGenerator by delegating to fakeGenerator's
// GenerateLB, since DNSGenerator and LBGenerator share the method name
// "Generate" with different signatures and can't both live on one type.
type lbAdapter struct{ *fakeGenerator }

func (a lbAdapter) Generate(ctx context.Context, lb map[string]types.LbEntry, dns map[string]types.DnsEntry, selfSourceID, selfIP string) error {
	return a.GenerateLB(ctx, lb, dns, selfSourceID, selfIP)
}

func newTestCore() (*Core, *fakeGenerator) {
	fg := &fakeGenerator{}
	c := New(Defaults{DNSDomain: "local", LBDomain: "local"}, fg, lbAdapter{fg})
	return c, fg
}

func TestStartRegistersWorkloadAndRegenerates(t *testing.T) {
	c, fg := newTestCore()

	ws := types.Workload{SourceID: "container:abc", Name: "tomcat", Hostname: "abc123", IP: "172.17.0.2"}
	err := c.Start(context.Background(), ws)
	require.NoError(t, err)

	dns, lb := c.Snapshot()
	require.Contains(t, dns, "container:abc")
	require.Contains(t, lb, "container:abc")
	assert.Equal(t, "172.17.0.2", dns["container:abc"].IP)
	assert.Equal(t, 1, fg.dnsGenerations)
	assert.Equal(t, 1, fg.lbGenerations)
}

func TestStartRejectsWorkloadWithoutIP(t *testing.T) {
	c, fg := newTestCore()

	err := c.Start(context.Background(), types.Workload{SourceID: "container:abc"})
	assert.Error(t, err)
	assert.Zero(t, fg.dnsGenerations, "a rejected workload must never trigger regeneration")
}

func TestStopRemovesEntriesAndRegenerates(t *testing.T) {
	c, fg := newTestCore()
	ws := types.Workload{SourceID: "container:abc", Name: "tomcat", Hostname: "abc123", IP: "172.17.0.2"}
	require.NoError(t, c.Start(context.Background(), ws))

	err := c.Stop(context.Background(), "container:abc")
	require.NoError(t, err)

	dns, lb := c.Snapshot()
	assert.NotContains(t, dns, "container:abc")
	assert.NotContains(t, lb, "container:abc")
	assert.Equal(t, 2, fg.dnsGenerations)
}

func TestStopOnUnknownSourceIDIsIdempotent(t *testing.T) {
	c, _ := newTestCore()
	err := c.Stop(context.Background(), "container:never-registered")
	assert.NoError(t, err)
}

func TestRegenerateRunsLBBeforeDNS(t *testing.T) {
	c, fg := newTestCore()
	c.SetSelf("container:self")

	ws := types.Workload{
		SourceID: "container:self",
		Name:     "tomcat",
		Hostname: "abc123",
		IP:       "172.17.0.1",
	}
	require.NoError(t, c.Start(context.Background(), ws))

	assert.Equal(t, []string{"lb", "dns"}, fg.order, "the LB generator must run before the DNS generator")
}

func TestSetExternalIPOverridesSelfDNSEntryAndLBSelfIP(t *testing.T) {
	c, fg := newTestCore()
	c.SetSelf("container:self")
	c.SetExternalIP("203.0.113.10")

	ws := types.Workload{
		SourceID: "container:self",
		Name:     "dalidock",
		Hostname: "dalidock",
		IP:       "172.17.0.1",
	}
	require.NoError(t, c.Start(context.Background(), ws))

	dns, _ := c.Snapshot()
	assert.Equal(t, "203.0.113.10", dns["container:self"].IP, "the self DNS entry must carry the external IP, not the detected one")

	require.NotEmpty(t, fg.lastDNS)
	assert.Equal(t, "203.0.113.10", fg.lastDNS["container:self"].IP, "the LB generator must see the overridden self IP through dns[selfSourceID]")
}

func TestGeneratorErrorsAreAggregatedNotFatal(t *testing.T) {
	c, fg := newTestCore()
	fg.dnsErr = assert.AnError

	ws := types.Workload{SourceID: "container:abc", Name: "tomcat", Hostname: "abc123", IP: "172.17.0.2"}
	err := c.Start(context.Background(), ws)
	assert.Error(t, err)

	dns, _ := c.Snapshot()
	assert.Contains(t, dns, "container:abc", "a generator failure must not roll back the model")
}

func TestSnapshotReturnsDefensiveCopies(t *testing.T) {
	c, _ := newTestCore()
	ws := types.Workload{SourceID: "container:abc", Name: "tomcat", Hostname: "abc123", IP: "172.17.0.2"}
	require.NoError(t, c.Start(context.Background(), ws))

	dns, _ := c.Snapshot()
	delete(dns, "container:abc")

	dns2, _ := c.Snapshot()
	assert.Contains(t, dns2, "container:abc", "mutating a snapshot must not affect the core's model")
}
