// Package lbgen implements the load-balancer generator: it rebuilds
// the downstream proxy configuration from scratch every cycle,
// aggregating HTTP entries by host and TCP entries by frontend port,
// and it owns the LB-induced synthetic DNS entries (it flushes and
// repopulates them before the DNS generator runs).
package lbgen

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

// Generator renders and reloads the reverse-proxy configuration.
type Generator struct {
	TemplatePath string
	ConfigPath   string
	Supervisor   supervisor.Supervisor

	lastWritten string
}

// New creates a Generator. templatePath is read fresh on every
// generation cycle, so editing it on disk takes effect on the next
// event without restarting the daemon.
func New(templatePath, configPath string, sup supervisor.Supervisor) *Generator {
	metrics.RegisterComponent("lb_generator", true, "")
	return &Generator{TemplatePath: templatePath, ConfigPath: configPath, Supervisor: sup}
}

type httpServer struct {
	workloadHost string
	ip           string
	port         string
}

type httpGroup struct {
	host     string
	wildcard bool
	domain   string
	servers  []httpServer
}

type tcpServer struct {
	ip       string
	backPort string
}

type tcpGroup struct {
	frontPort string
	host      string // last LbEntry to declare this front_port wins the name
	wildcard  bool
	domain    string
	servers   []tcpServer
}

// Generate aggregates lb, flushes and repopulates the synthetic DNS
// entries it owns inside dns, renders the proxy config, and reloads
// the proxy through the supervisor when the text changed.
func (g *Generator) Generate(ctx context.Context, lb map[string]types.LbEntry, dns map[string]types.DnsEntry, selfSourceID, selfIP string) error {
	flushSynthetic(dns, selfSourceID)

	httpGroups, tcpGroups := aggregate(lb)

	for _, hg := range httpGroups {
		addSyntheticEntry(dns, selfSourceID, selfIP, hg.host, hg.domain, hg.wildcard)
	}
	for _, tg := range tcpGroups {
		addSyntheticEntry(dns, selfSourceID, selfIP, tg.host, tg.domain, tg.wildcard)
	}

	configText, err := g.render(httpGroups, tcpGroups)
	if err != nil {
		log.WithComponent("lbgen").Error().Err(err).Msg("render failed")
		metrics.UpdateComponent("lb_generator", false, err.Error())
		return err
	}

	metrics.GenerationsTotal.WithLabelValues("lb").Inc()

	if configText == g.lastWritten {
		metrics.UpdateComponent("lb_generator", true, "")
		return nil
	}

	if err := os.WriteFile(g.ConfigPath, []byte(configText), 0644); err != nil {
		err = fmt.Errorf("lbgen: write config file: %w", err)
		metrics.UpdateComponent("lb_generator", false, err.Error())
		return err
	}
	g.lastWritten = configText

	if err := g.Supervisor.ReloadProxy(ctx, g.ConfigPath); err != nil {
		log.WithComponent("lbgen").Error().Err(err).Msg("proxy reload failed")
		err = fmt.Errorf("lbgen: reload proxy: %w", err)
		metrics.UpdateComponent("lb_generator", false, err.Error())
		return err
	}
	metrics.ReloadsTotal.WithLabelValues("lb", "reload").Inc()
	metrics.UpdateComponent("lb_generator", true, "")
	return nil
}

// flushSynthetic removes every DNS entry this generator owns, keyed
// "<selfSourceID>_<host>", so a cycle that drops a host never leaves a
// stale entry behind.
func flushSynthetic(dns map[string]types.DnsEntry, selfSourceID string) {
	if selfSourceID == "" {
		return
	}
	prefix := selfSourceID + "_"
	for k := range dns {
		if strings.HasPrefix(k, prefix) {
			delete(dns, k)
		}
	}
}

func addSyntheticEntry(dns map[string]types.DnsEntry, selfSourceID, selfIP, host, domain string, wildcard bool) {
	if selfSourceID == "" || host == "" {
		return
	}
	key := selfSourceID + "_" + host
	existing, ok := dns[key]
	refCount := 1
	if ok {
		refCount = existing.RefCount + 1
	}
	dns[key] = types.DnsEntry{
		Hostname:    host,
		Name:        host,
		IP:          selfIP,
		Domain:      domain,
		UseWildcard: wildcard,
		RefCount:    refCount,
	}
}

// aggregate parses every LbEntry's raw HTTP/TCP label values,
// skipping malformed ones (logged), and groups servers by host (HTTP)
// or front port (TCP). Iteration order over lb is made deterministic
// by sorting source IDs first.
func aggregate(lb map[string]types.LbEntry) (http []httpGroup, tcp []tcpGroup) {
	keys := make([]string, 0, len(lb))
	for k := range lb {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	httpIdx := make(map[string]int)
	tcpIdx := make(map[string]int)

	for _, sourceID := range keys {
		entry := lb[sourceID]

		for _, raw := range entry.HTTPEntries {
			target, err := labels.ParseHTTPEntry(raw)
			if err != nil {
				log.WithComponent("lbgen").Warn().Str("source_id", sourceID).Err(err).Msg("skipping malformed lb.http entry")
				continue
			}
			host, wildcard := labels.StripWildcardPrefix(target.Host)
			i, ok := httpIdx[host]
			if !ok {
				i = len(http)
				httpIdx[host] = i
				http = append(http, httpGroup{host: host, wildcard: wildcard, domain: entry.Domain})
			}
			http[i].servers = append(http[i].servers, httpServer{
				workloadHost: entry.Hostname,
				ip:           entry.IP,
				port:         target.Port,
			})
		}

		for _, raw := range entry.TCPEntries {
			target, err := labels.ParseTCPEntry(raw)
			if err != nil {
				log.WithComponent("lbgen").Warn().Str("source_id", sourceID).Err(err).Msg("skipping malformed lb.tcp entry")
				continue
			}
			host, wildcard := labels.StripWildcardPrefix(target.Host)
			i, ok := tcpIdx[target.FrontPort]
			if !ok {
				i = len(tcp)
				tcpIdx[target.FrontPort] = i
				tcp = append(tcp, tcpGroup{frontPort: target.FrontPort})
			}
			// Last writer for this front_port wins the frontend's
			// name, per the open-question resolution in DESIGN.md.
			tcp[i].host = host
			tcp[i].wildcard = wildcard
			tcp[i].domain = entry.Domain
			tcp[i].servers = append(tcp[i].servers, tcpServer{ip: entry.IP, backPort: target.BackPort})
		}
	}

	sort.Slice(http, func(i, j int) bool { return http[i].host < http[j].host })
	sort.Slice(tcp, func(i, j int) bool { return tcp[i].frontPort < tcp[j].frontPort })
	return http, tcp
}

func (g *Generator) render(http []httpGroup, tcp []tcpGroup) (string, error) {
	prefix, err := os.ReadFile(g.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("lbgen: read template: %w", err)
	}

	var b strings.Builder
	b.Write(prefix)

	renderHTTPFrontends(&b, http)
	renderHTTPBackends(&b, http)
	renderTCPFrontends(&b, tcp)
	renderTCPBackends(&b, tcp)

	return b.String(), nil
}

func renderHTTPFrontends(b *strings.Builder, groups []httpGroup) {
	for _, hg := range groups {
		fmt.Fprintf(b, "    acl is_%s hdr_reg(host) ^(.*\\.|)%s(\\..+$|$)\n", hg.host, hg.host)
		fmt.Fprintf(b, "    use_backend backend_http_%s if is_%s\n", hg.host, hg.host)
	}
}

func renderHTTPBackends(b *strings.Builder, groups []httpGroup) {
	for _, hg := range groups {
		fmt.Fprintf(b, "backend backend_http_%s\n", hg.host)
		for _, s := range hg.servers {
			fmt.Fprintf(b, "    server %s %s:%s check port %s\n", s.workloadHost, s.ip, s.port, s.port)
		}
	}
}

func renderTCPFrontends(b *strings.Builder, groups []tcpGroup) {
	for _, tg := range groups {
		fmt.Fprintf(b, "frontend frontend_tcp_%s_%s\n", tg.host, tg.frontPort)
		fmt.Fprintf(b, "    bind *:%s\n", tg.frontPort)
		fmt.Fprintln(b, "    mode tcp")
		fmt.Fprintf(b, "    default_backend backend_tcp_%s_%s\n", tg.host, tg.frontPort)
	}
}

func renderTCPBackends(b *strings.Builder, groups []tcpGroup) {
	for _, tg := range groups {
		fmt.Fprintf(b, "backend backend_tcp_%s_%s\n", tg.host, tg.frontPort)
		fmt.Fprintln(b, "    mode tcp")
		fmt.Fprintln(b, "    balance roundrobin")
		for i, s := range tg.servers {
			fmt.Fprintf(b, "    server server%d %s:%s check port %s\n", i+1, s.ip, s.backPort, s.backPort)
		}
	}
}
