package supervisor

import (
	"context"
	"fmt"
	"os/exec"
)

// ProcessSupervisor issues the three commands as external processes —
// a service-supervisor call for reload/restart, and the proxy-reload
// helper binary for the proxy.
type ProcessSupervisor struct {
	// DNSReloadCmd is run to signal-reload the resolver, e.g.
	// {"supervisorctl", "signal", "HUP", "dnsmasq"}.
	DNSReloadCmd []string
	// DNSRestartCmd is run to fully respawn the resolver.
	DNSRestartCmd []string
	// ProxyReloadCmd is the proxy-reload helper; the config path is
	// appended as its final argument.
	ProxyReloadCmd []string
}

func (s *ProcessSupervisor) ReloadDNS(ctx context.Context) error {
	return run(ctx, s.DNSReloadCmd)
}

func (s *ProcessSupervisor) RestartDNS(ctx context.Context) error {
	return run(ctx, s.DNSRestartCmd)
}

func (s *ProcessSupervisor) ReloadProxy(ctx context.Context, configPath string) error {
	return run(ctx, append(append([]string{}, s.ProxyReloadCmd...), configPath))
}

func run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("supervisor: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("supervisor: %v failed: %w (output: %s)", argv, err, string(output))
	}
	return nil
}
