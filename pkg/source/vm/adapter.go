// Package vm implements the virtual-machine source adapter on top of
// libvirt: domain enumeration, lifecycle events, and asynchronous IP
// resolution via the QEMU guest agent or a DHCP lease poll.
package vm

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/lionelnicolas/dalidock/pkg/log"
	"github.com/lionelnicolas/dalidock/pkg/metrics"
	"github.com/lionelnicolas/dalidock/pkg/types"
)

// metadataNamespace is the XML namespace domain metadata is read from
// for dalidock's dns.*/lb.* labels.
const metadataNamespace = "http://github.com/lionelnicolas/dalidock"

// ipPollInterval is how often a newly started domain is checked for an
// address while waiting on the guest agent or a DHCP lease.
const ipPollInterval = 200 * time.Millisecond

// Adapter is the libvirt-backed VM source adapter.
type Adapter struct {
	conn      *libvirt.Libvirt
	ipTimeout time.Duration
}

// New wraps an already-connected libvirt client. The VM adapter is entirely
// optional: callers should fall back to source.NewNoop when the
// socket doesn't exist before calling New.
func New(conn *libvirt.Libvirt, ipTimeout time.Duration) *Adapter {
	return &Adapter{conn: conn, ipTimeout: ipTimeout}
}

func (a *Adapter) Name() string { return "vm" }

// Enumerate lists every running domain. Domains whose IP can't be
// resolved within ipTimeout are skipped.
func (a *Adapter) Enumerate(ctx context.Context) ([]types.Workload, error) {
	domains, _, err := a.conn.ConnectListAllDomains(-1, libvirt.ConnectListDomainsRunning)
	if err != nil {
		return nil, fmt.Errorf("vm: list domains: %w", err)
	}

	var workloads []types.Workload
	for _, d := range domains {
		ip, err := a.resolveIP(ctx, d)
		if err != nil {
			log.WithComponent("vm").Warn().Str("domain", d.Name).Err(err).Msg("no IP yet, skipping enumeration")
			continue
		}
		ws, err := a.toWorkload(d, ip)
		if err != nil {
			continue
		}
		workloads = append(workloads, ws)
	}
	return workloads, nil
}

// lifecycleEvent captures the subset of libvirt.DomainEventCallback
// events that map onto Start/Stop.
type lifecycleEvent struct {
	dom  libvirt.Domain
	kind types.EventKind
}

// domainEventKind is the static table mapping libvirt's numeric
// lifecycle event codes to Start/Stop; every other event is ignored.
// DomainEventDefined is handled separately in Events, since whether it
// means Start depends on the domain's current state, not just the
// event code.
func domainEventKind(event int32) (types.EventKind, bool) {
	switch event {
	case int32(libvirt.DomainEventStarted), int32(libvirt.DomainEventResumed):
		return types.EventStart, true
	case int32(libvirt.DomainEventStopped), int32(libvirt.DomainEventShutdown), int32(libvirt.DomainEventCrashed):
		return types.EventStop, true
	}
	return "", false
}

// isRunning reports whether dom is currently running. DomainEventDefined
// fires on every metadata edit, not only on domain creation, so a
// Defined event on an already-running domain is how a live dns.*/lb.*
// label edit reaches the adapter and must be treated as a Start to
// reconverge.
func (a *Adapter) isRunning(dom libvirt.Domain) bool {
	state, _, err := a.conn.DomainGetState(dom, 0)
	if err != nil {
		return false
	}
	return state == int32(libvirt.DomainRunning)
}

// Events subscribes to libvirt domain lifecycle events. A Start event
// spawns a bounded goroutine that polls for the domain's IP before
// emitting the Workload; the core never sees a Start until an IP is
// known or the timeout is hit, in which case the event is dropped.
func (a *Adapter) Events(ctx context.Context) (<-chan types.Event, error) {
	lifecycle, err := a.conn.LifecycleEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("vm: subscribe to lifecycle events: %w", err)
	}

	out := make(chan types.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-lifecycle:
				if !ok {
					return
				}
				if ev.Event == int32(libvirt.DomainEventDefined) {
					if a.isRunning(ev.Dom) {
						go a.resolveAndEmit(ctx, ev.Dom, out)
					}
					continue
				}
				kind, ok := domainEventKind(ev.Event)
				if !ok {
					continue
				}
				if kind == types.EventStop {
					metrics.EventsTotal.WithLabelValues("vm", "stop").Inc()
					out <- types.Event{SourceID: sourceID(ev.Dom.Name), Kind: types.EventStop}
					continue
				}
				go a.resolveAndEmit(ctx, ev.Dom, out)
			}
		}
	}()
	return out, nil
}

func (a *Adapter) resolveAndEmit(ctx context.Context, dom libvirt.Domain, out chan<- types.Event) {
	start := time.Now()
	ip, err := a.resolveIP(ctx, dom)
	metrics.VMIPResolutionSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.VMIPTimeoutsTotal.Inc()
		log.WithComponent("vm").Warn().Str("domain", dom.Name).Err(err).Msg("timed out resolving IP, dropping start event")
		return
	}

	ws, err := a.toWorkload(dom, ip)
	if err != nil {
		log.WithComponent("vm").Warn().Str("domain", dom.Name).Err(err).Msg("failed to read domain metadata")
		return
	}

	metrics.EventsTotal.WithLabelValues("vm", "start").Inc()
	select {
	case out <- types.Event{SourceID: ws.SourceID, Kind: types.EventStart, Workload: &ws}:
	case <-ctx.Done():
	}
}

// resolveIP polls the QEMU guest agent, falling back to the DHCP lease
// table, every ipPollInterval until an address appears or ipTimeout
// elapses.
func (a *Adapter) resolveIP(ctx context.Context, dom libvirt.Domain) (string, error) {
	deadline := time.Now().Add(a.ipTimeout)
	ticker := time.NewTicker(ipPollInterval)
	defer ticker.Stop()

	for {
		if ip, ok := a.guestAgentIP(dom); ok {
			return ip, nil
		}
		if ip, ok := a.dhcpLeaseIP(dom); ok {
			return ip, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("vm: no IP for domain %s after %s", dom.Name, a.ipTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// guestAgentIP queries the QEMU guest agent over its libvirt channel
// for interface addresses. Any failure (agent not installed, domain
// still booting) is swallowed: it's an expected transient state, not
// an error worth logging on every poll tick.
func (a *Adapter) guestAgentIP(dom libvirt.Domain) (string, bool) {
	resp, err := a.conn.QEMUDomainAgentCommand(
		dom,
		`{"execute":"guest-network-get-interfaces"}`,
		0,
		0,
	)
	if err != nil || len(resp) == 0 {
		return "", false
	}
	return parseGuestAgentAddress(resp[0])
}

// dhcpLeaseIP falls back to the DHCP lease libvirt's own network
// driver handed out, for guests without a working guest agent.
func (a *Adapter) dhcpLeaseIP(dom libvirt.Domain) (string, bool) {
	ifaces, err := a.conn.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		return "", false
	}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Type == int32(libvirt.IPAddrTypeIpv4) && addr.Addr != "" {
				return addr.Addr, true
			}
		}
	}
	return "", false
}

func (a *Adapter) toWorkload(dom libvirt.Domain, ip string) (types.Workload, error) {
	labels, err := a.metadataLabels(dom)
	if err != nil {
		return types.Workload{}, err
	}
	return types.Workload{
		SourceID: sourceID(dom.Name),
		Name:     dom.Name,
		Hostname: dom.Name,
		IP:       ip,
		Network:  "libvirt",
		Labels:   labels,
	}, nil
}

// domainMetadata mirrors the <labels> element dalidock's own libvirt
// XML metadata namespace carries: each attribute is one dns.*/lb.*
// label, keyed by the attribute name.
type domainMetadata struct {
	XMLName xml.Name   `xml:"labels"`
	Attrs   []xml.Attr `xml:",any,attr"`
}

func (a *Adapter) metadataLabels(dom libvirt.Domain) (map[string]string, error) {
	raw, err := a.conn.DomainGetMetadata(dom, int32(libvirt.DomainMetadataElement), libvirt.OptString{metadataNamespace}, libvirt.DomainAffectConfig)
	if err != nil {
		// Domains with no dalidock metadata are valid; they simply
		// carry no dns.*/lb.* labels.
		return map[string]string{}, nil
	}

	var meta domainMetadata
	if err := xml.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("vm: parse domain metadata for %s: %w", dom.Name, err)
	}

	labels := make(map[string]string, len(meta.Attrs))
	for _, attr := range meta.Attrs {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue // namespace declarations, not labels
		}
		labels[attr.Name.Local] = strings.TrimSpace(attr.Value)
	}
	return labels, nil
}

func sourceID(domainName string) string {
	return "vm:" + domainName
}
