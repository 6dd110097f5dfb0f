// Package supervisor abstracts the three commands the core issues
// against the downstream resolver and proxy processes. Keeping this
// behind an interface lets tests substitute a recorder instead of
// shelling out for real.
package supervisor

import "context"

// Supervisor issues the three commands the generators need against
// their downstream processes.
type Supervisor interface {
	// ReloadDNS triggers a signal-based config re-read of the resolver.
	ReloadDNS(ctx context.Context) error
	// RestartDNS fully respawns the resolver (used when the wildcards
	// file changes, since the resolver only re-reads hosts on SIGHUP).
	RestartDNS(ctx context.Context) error
	// ReloadProxy invokes the proxy-reload helper against configPath.
	ReloadProxy(ctx context.Context, configPath string) error
}
