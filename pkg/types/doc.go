/*
Package types holds the data model shared by every package in the
daemon: the Workload record produced by source adapters, the Event
used to report lifecycle transitions, and the DnsEntry/LbEntry tables
owned by the convergence core.

Nothing in this package talks to containerd, libvirt, DNS, or
HAProxy directly — it exists so pkg/source, pkg/core, pkg/dnsgen and
pkg/lbgen can agree on shapes without importing each other.

# Keys

Every table in the core is keyed by SourceID, a string of the form
"<adapter>:<native-id>" (e.g. "container:4f8a…", "vm:web-01"). The LB
generator additionally synthesizes DNS entries keyed
"<self_source_id>_<host>" for frontend hostnames it introduces; those
entries carry a RefCount so they can be dropped once no LbEntry
references that host anymore.
*/
package types
