// Package types holds the data model shared by every daemon package:
// the workload record adapters produce, and the two tables the
// convergence core owns.
package types

// EventKind distinguishes a workload lifecycle transition.
type EventKind string

const (
	EventStart EventKind = "start"
	EventStop  EventKind = "stop"
)

// Event is a single lifecycle transition reported by a source adapter.
type Event struct {
	SourceID string
	Kind     EventKind

	// Workload is populated for EventStart; nil for EventStop.
	Workload *Workload
}

// Workload is the uniform record produced by any source adapter,
// keyed by SourceID (e.g. "container:<hex>", "vm:<domain-name>").
type Workload struct {
	SourceID string
	Name     string
	Hostname string
	IP       string
	Network  string
	Labels   map[string]string
}

// DnsEntry is a row of the DNS half of the model, keyed by SourceID
// (or, for load-balancer-induced entries, by a synthetic key of the
// form "<self_id>_<host>").
type DnsEntry struct {
	Hostname    string
	IP          string
	Network     string
	Domain      string
	Name        string
	Aliases     []string
	UseWildcard bool

	// RefCount is only meaningful for synthetic (LB-induced) entries;
	// it is ignored by the DNS generator for ordinary entries.
	RefCount int
}

// LbEntry is a row of the load-balancer half of the model, keyed by
// SourceID. HTTPEntries/TCPEntries hold the raw, unparsed label
// values; parsing happens in the LB generator so malformed entries
// can be skipped without losing the rest of the workload.
type LbEntry struct {
	Hostname   string
	IP         string
	Domain     string
	HTTPEntries []string
	TCPEntries  []string
}
