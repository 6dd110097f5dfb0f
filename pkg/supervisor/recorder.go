package supervisor

import (
	"context"
	"sync"
)

// Recorder is a test double that records every command it was asked
// to run instead of executing anything.
type Recorder struct {
	mu sync.Mutex

	ReloadDNSCalls  int
	RestartDNSCalls int
	ProxyConfigs    []string

	ReloadDNSErr  error
	RestartDNSErr error
	ReloadProxyErr error
}

func (r *Recorder) ReloadDNS(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReloadDNSCalls++
	return r.ReloadDNSErr
}

func (r *Recorder) RestartDNS(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RestartDNSCalls++
	return r.RestartDNSErr
}

func (r *Recorder) ReloadProxy(ctx context.Context, configPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ProxyConfigs = append(r.ProxyConfigs, configPath)
	return r.ReloadProxyErr
}
