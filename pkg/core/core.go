// Package core implements the convergence engine: the authoritative
// in-memory model (DNS entries + LB entries), its single mutex, and
// the Start/Stop mutations that trigger the two generators in the
// order required to keep LB-induced synthetic DNS entries consistent
// (LB first, then DNS).
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/lionelnicolas/dalidock/pkg/labels"
	"github.com/lionelnicolas/dalidock/pkg/log"
	"github.com/lionelnicolas/dalidock/pkg/metrics"
	"github.com/lionelnicolas/dalidock/pkg/types"
)

// DNSGenerator is the shape the DNS generator exposes to the core; it
// lets Core trigger a regeneration cycle without knowing how the
// generator renders or reloads its downstream.
type DNSGenerator interface {
	Generate(ctx context.Context, dns map[string]types.DnsEntry) error
}

// LBGenerator mutates dns in place (flushing and repopulating the
// synthetic entries it owns) before rendering and reloading its own
// config.
type LBGenerator interface {
	Generate(ctx context.Context, lb map[string]types.LbEntry, dns map[string]types.DnsEntry, selfSourceID, selfIP string) error
}

// Defaults holds the fallback domain/wildcard values applied to a
// workload whose labels don't override them.
type Defaults struct {
	DNSDomain   string
	DNSWildcard bool
	LBDomain    string
}

// Core owns the model and serializes every mutation and generation
// cycle behind a single mutex.
type Core struct {
	mu sync.Mutex

	dns map[string]types.DnsEntry
	lb  map[string]types.LbEntry

	defaults Defaults

	selfSourceID string
	externalIP   string

	dnsGen DNSGenerator
	lbGen  LBGenerator
}

// New creates an empty Core.
func New(defaults Defaults, dnsGen DNSGenerator, lbGen LBGenerator) *Core {
	metrics.RegisterComponent("core", true, "")
	return &Core{
		dns:      make(map[string]types.DnsEntry),
		lb:       make(map[string]types.LbEntry),
		defaults: defaults,
		dnsGen:   dnsGen,
		lbGen:    lbGen,
	}
}

// SetSelf records which source ID is the daemon's own workload. It
// must be called once, before the first LB entry referencing a
// frontend host is processed, so synthetic DNS entries are attributed
// to the right owner key.
func (c *Core) SetSelf(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfSourceID = sourceID
}

// SetExternalIP overrides the IP advertised for the daemon's own DNS
// entry, and therefore the selfIP handed to the LB generator for every
// LB-induced synthetic frontend host. Deployments behind NAT or
// running the daemon in host network mode set this when the
// auto-detected primary IPv4 isn't the address clients actually reach.
// An empty ip clears the override and falls back to the detected one.
func (c *Core) SetExternalIP(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.externalIP = ip
}

// Start registers (or re-registers, idempotently) a workload's DNS and
// LB entries and runs a convergence cycle. ws.IP must be non-empty;
// callers (the source adapters) are responsible for skipping
// registration of workloads with no resolvable IP.
func (c *Core) Start(ctx context.Context, ws types.Workload) error {
	if ws.IP == "" {
		return fmt.Errorf("core: workload %s has no IP, refusing to register", ws.SourceID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := dnsEntryFromWorkload(ws, c.defaults)
	if c.externalIP != "" && ws.SourceID == c.selfSourceID {
		entry.IP = c.externalIP
	}
	c.dns[ws.SourceID] = entry
	c.lb[ws.SourceID] = lbEntryFromWorkload(ws, c.defaults)

	metrics.EventsTotal.WithLabelValues(sourceKind(ws.SourceID), "start").Inc()
	return c.regenerate(ctx)
}

// Stop removes a workload's DNS and LB entries, if present, and runs a
// convergence cycle.
func (c *Core) Stop(ctx context.Context, sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.dns, sourceID)
	delete(c.lb, sourceID)

	metrics.EventsTotal.WithLabelValues(sourceKind(sourceID), "stop").Inc()
	return c.regenerate(ctx)
}

// regenerate runs the LB generator (which owns the synthetic DNS
// entries) and then the DNS generator, while the lock is held. No
// generator error is fatal to the core: both are logged and the model
// stays consistent for the next event.
func (c *Core) regenerate(ctx context.Context) error {
	var errs []error

	if err := c.lbGen.Generate(ctx, c.lb, c.dns, c.selfSourceID, c.dns[c.selfSourceID].IP); err != nil {
		log.WithComponent("core").Error().Err(err).Msg("lb generation failed")
		errs = append(errs, err)
	}
	if err := c.dnsGen.Generate(ctx, c.dns); err != nil {
		log.WithComponent("core").Error().Err(err).Msg("dns generation failed")
		errs = append(errs, err)
	}

	metrics.DNSEntriesTotal.Set(float64(len(c.dns)))
	metrics.LBEntriesTotal.Set(float64(len(c.lb)))

	if len(errs) > 0 {
		metrics.UpdateComponent("core", false, errs[0].Error())
		return fmt.Errorf("core: regeneration had %d error(s): %v", len(errs), errs)
	}
	metrics.UpdateComponent("core", true, "")
	return nil
}

// Snapshot returns defensive copies of both tables, for inspection
// (e.g. by the API server or tests) without racing the mutex.
func (c *Core) Snapshot() (dns map[string]types.DnsEntry, lb map[string]types.LbEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dns = make(map[string]types.DnsEntry, len(c.dns))
	for k, v := range c.dns {
		dns[k] = v
	}
	lb = make(map[string]types.LbEntry, len(c.lb))
	for k, v := range c.lb {
		lb[k] = v
	}
	return dns, lb
}

func dnsEntryFromWorkload(ws types.Workload, d Defaults) types.DnsEntry {
	return types.DnsEntry{
		Hostname:    ws.Hostname,
		IP:          ws.IP,
		Network:     ws.Network,
		Domain:      labels.Domain(ws.Labels, labels.KeyDNSDomain, d.DNSDomain),
		Name:        ws.Name,
		Aliases:     labels.Aliases(ws.Labels),
		UseWildcard: labels.Wildcard(ws.Labels, d.DNSWildcard),
	}
}

func lbEntryFromWorkload(ws types.Workload, d Defaults) types.LbEntry {
	return types.LbEntry{
		Hostname:    ws.Hostname,
		IP:          ws.IP,
		Domain:      labels.Domain(ws.Labels, labels.KeyLBDomain, d.LBDomain),
		HTTPEntries: labels.HTTPEntries(ws.Labels),
		TCPEntries:  labels.TCPEntries(ws.Labels),
	}
}

// sourceKind extracts the "container"/"vm" prefix from a source ID of
// the form "container:<hex>" or "vm:<domain-name>", for metric labeling.
func sourceKind(sourceID string) string {
	for i := 0; i < len(sourceID); i++ {
		if sourceID[i] == ':' {
			return sourceID[:i]
		}
	}
	return "unknown"
}
