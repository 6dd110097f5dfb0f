package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/spf13/cobra"

	"github.com/lionelnicolas/dalidock/pkg/api"
	"github.com/lionelnicolas/dalidock/pkg/config"
	"github.com/lionelnicolas/dalidock/pkg/core"
	"github.com/lionelnicolas/dalidock/pkg/dnsgen"
	"github.com/lionelnicolas/dalidock/pkg/engine"
	"github.com/lionelnicolas/dalidock/pkg/lbgen"
	"github.com/lionelnicolas/dalidock/pkg/log"
	"github.com/lionelnicolas/dalidock/pkg/metrics"
	"github.com/lionelnicolas/dalidock/pkg/source"
	"github.com/lionelnicolas/dalidock/pkg/source/container"
	"github.com/lionelnicolas/dalidock/pkg/source/vm"
	"github.com/lionelnicolas/dalidock/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dalidock",
	Short:   "dalidock converts container and VM lifecycle events into DNS and load-balancer configuration",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dalidock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	log.Logger.Info().Msg("starting dalidock")

	metrics.SetVersion(Version)

	sup := &supervisor.ProcessSupervisor{
		DNSReloadCmd:   []string{"supervisorctl", "signal", "HUP", "dnsmasq"},
		DNSRestartCmd:  []string{"supervisorctl", "restart", "dnsmasq"},
		ProxyReloadCmd: []string{"dalidock-proxy-reload"},
	}

	dnsGen := dnsgen.New(cfg.DNSMasqHostsFile, cfg.DNSMasqWildcardsFile, sup)
	lbGen := lbgen.New(cfg.HAProxyConfigTemplate, cfg.HAProxyConfigFile, sup)

	defaults := core.Defaults{
		DNSDomain:   cfg.DNSDomain,
		DNSWildcard: cfg.DNSWildcard,
		LBDomain:    cfg.LBDomain,
	}
	c := core.New(defaults, dnsGen, lbGen)

	adapters, selfSourceID, err := buildAdapters(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize source adapters: %w", err)
	}
	c.SetSelf(selfSourceID)
	if cfg.ExternalIP != "" {
		log.Logger.Info().Str("ip", cfg.ExternalIP).Msg("overriding self IP from EXTERNAL_IP")
		c.SetExternalIP(cfg.ExternalIP)
	}

	apiServer := api.New(cfg.MetricsAddr)
	metrics.RegisterComponent("api", true, "")
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			metrics.UpdateComponent("api", false, err.Error())
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(c, adapters...)
	engDone := make(chan error, 1)
	go func() {
		engDone <- eng.Run(ctx)
	}()

	log.Logger.Info().Msg("dalidock running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("fatal error")
	case err := <-engDone:
		log.Logger.Error().Err(err).Msg("event loop exited unexpectedly")
	}

	cancel()
	_ = apiServer.Stop()
	<-engDone

	log.Logger.Info().Msg("shutdown complete")
	return nil
}

// buildAdapters wires up the container and VM source adapters
// according to cfg, returning the daemon's own source ID as
// discovered through the container adapter's self-discovery. If the
// container adapter is disabled, the daemon has no
// self-identity and the source ID is empty; the LB generator then
// creates no synthetic LB-induced DNS entries.
func buildAdapters(ctx context.Context, cfg config.Config) ([]source.Adapter, string, error) {
	var adapters []source.Adapter
	var selfSourceID string

	containerAdapter, err := container.New(cfg.DockerSocket)
	if err != nil {
		return nil, "", fmt.Errorf("container adapter: %w", err)
	}
	adapters = append(adapters, containerAdapter)

	if ca, ok := containerAdapter.(*container.Adapter); ok {
		self, err := ca.SelfDiscover(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("container adapter: %w", err)
		}
		selfSourceID = self.SourceID
	}

	if _, err := os.Stat(cfg.LibvirtSocket); err == nil {
		conn := libvirt.NewWithDialer(dialers.NewLocal(dialers.WithSocket(cfg.LibvirtSocket)))
		if err := conn.Connect(); err != nil {
			log.Logger.Error().Err(err).Msg("failed to connect to libvirt, disabling VM adapter")
			adapters = append(adapters, source.NewNoop("vm"))
		} else {
			adapters = append(adapters, vm.New(conn, cfg.LibvirtIPTimeout))
		}
	} else {
		log.Logger.Info().Str("socket", cfg.LibvirtSocket).Msg("libvirt socket absent, VM adapter disabled")
		adapters = append(adapters, source.NewNoop("vm"))
	}

	return adapters, selfSourceID, nil
}
