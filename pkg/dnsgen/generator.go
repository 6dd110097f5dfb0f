// Package dnsgen implements the DNS generator: it projects the
// model's DNS table into a resolver hosts file and a wildcards file,
// and fires reload/restart through the supervisor hook only when the
// rendered text actually changed.
package dnsgen

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/lionelnicolas/dalidock/pkg/labels"
	"github.com/lionelnicolas/dalidock/pkg/log"
	"github.com/lionelnicolas/dalidock/pkg/metrics"
	"github.com/lionelnicolas/dalidock/pkg/supervisor"
	"github.com/lionelnicolas/dalidock/pkg/types"
)

// Generator renders and reloads the resolver's hosts/wildcards files.
// It caches the last text it wrote so repeated identical cycles are
// true no-ops.
type Generator struct {
	HostsPath     string
	WildcardsPath string
	Supervisor    supervisor.Supervisor

	lastHosts     string
	lastWildcards string
}

// New creates a Generator writing to the given paths.
func New(hostsPath, wildcardsPath string, sup supervisor.Supervisor) *Generator {
	metrics.RegisterComponent("dns_generator", true, "")
	return &Generator{HostsPath: hostsPath, WildcardsPath: wildcardsPath, Supervisor: sup}
}

// Generate renders both artifacts from dns and, on byte-level diff
// against the previous cycle, rewrites the file and issues the
// matching reload/restart command.
func (g *Generator) Generate(ctx context.Context, dns map[string]types.DnsEntry) error {
	hosts, wildcards := Render(dns)

	var errs []error

	if hosts != g.lastHosts {
		if err := os.WriteFile(g.HostsPath, []byte(hosts), 0644); err != nil {
			errs = append(errs, fmt.Errorf("dnsgen: write hosts file: %w", err))
		} else {
			g.lastHosts = hosts
			if err := g.Supervisor.ReloadDNS(ctx); err != nil {
				errs = append(errs, fmt.Errorf("dnsgen: reload resolver: %w", err))
			}
			metrics.ReloadsTotal.WithLabelValues("dns", "reload").Inc()
		}
	}

	if wildcards != g.lastWildcards {
		if err := os.WriteFile(g.WildcardsPath, []byte(wildcards), 0644); err != nil {
			errs = append(errs, fmt.Errorf("dnsgen: write wildcards file: %w", err))
		} else {
			g.lastWildcards = wildcards
			if err := g.Supervisor.RestartDNS(ctx); err != nil {
				errs = append(errs, fmt.Errorf("dnsgen: restart resolver: %w", err))
			}
			metrics.ReloadsTotal.WithLabelValues("dns", "restart").Inc()
		}
	}

	metrics.GenerationsTotal.WithLabelValues("dns").Inc()

	if len(errs) > 0 {
		log.WithComponent("dnsgen").Error().Errs("errors", errs).Msg("generation had errors")
		metrics.UpdateComponent("dns_generator", false, errs[0].Error())
		return fmt.Errorf("dnsgen: %v", errs)
	}
	metrics.UpdateComponent("dns_generator", true, "")
	return nil
}

// Render builds the hosts-file and wildcards-file text for dns,
// deterministically ordered by source ID.
func Render(dns map[string]types.DnsEntry) (hosts, wildcards string) {
	keys := make([]string, 0, len(dns))
	for k := range dns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var hostsB, wildcardsB strings.Builder
	for _, k := range keys {
		entry := dns[k]
		names := namesForEntry(entry)
		if len(names) == 0 {
			continue
		}

		hostsB.WriteString(entry.IP)
		for _, n := range names {
			hostsB.WriteByte(' ')
			hostsB.WriteString(n)
		}
		hostsB.WriteByte('\n')

		if entry.UseWildcard {
			for _, n := range names {
				fmt.Fprintf(&wildcardsB, "address=/%s/%s\n", n, entry.IP)
			}
		}
	}
	return hostsB.String(), wildcardsB.String()
}

// namesForEntry computes the ordered, deduplicated list of names that
// appear on an entry's hosts-file line. The FQDN ("<hostname>.<domain>")
// is always first so the resolver picks it for reverse lookups.
func namesForEntry(e types.DnsEntry) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}

	add(fqdn(e.Hostname, e.Domain))
	add(e.Hostname)
	add(fqdn(e.Name, e.Domain))
	add(e.Name)

	for _, raw := range e.Aliases {
		bare, aliasFQDN := labels.NormalizeAlias(raw, e.Domain)
		add(bare)
		add(aliasFQDN)
	}

	return names
}

func fqdn(name, domain string) string {
	if name == "" || domain == "" {
		return name
	}
	return name + "." + domain
}
