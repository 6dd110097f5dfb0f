// Command dalidock-proxy-reload is the external helper the load
// balancer generator shells out to: it starts a new proxy process
// bound to the freshly rendered config, hands it the listening sockets
// of any still-running instance via "-sf", and signals the old
// instance to drain once the new one is up.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lionelnicolas/dalidock/pkg/log"
)

const (
	proxyBinary  = "haproxy"
	pidFilePath  = "/var/run/haproxy.pid"
	drainTimeout = 5 * time.Second
)

func main() {
	log.Init(log.Config{Level: log.InfoLevel})

	cmd := &cobra.Command{
		Use:   "dalidock-proxy-reload CONFIG_FILE",
		Short: "reload the reverse proxy with a newly generated configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return reload(args[0])
		},
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dalidock-proxy-reload: %v\n", err)
		os.Exit(1)
	}
}

// reload starts a new proxy bound to configPath, asking it to take
// over the listening sockets of any process recorded in pidFilePath,
// then signals that old process to finish in-flight requests and exit.
func reload(configPath string) error {
	oldPID, hasOld := readPID(pidFilePath)

	argv := []string{"-f", configPath, "-p", pidFilePath}
	if hasOld {
		argv = append(argv, "-sf", strconv.Itoa(oldPID))
	}

	newProc := exec.Command(proxyBinary, argv...)
	newProc.Stdout = os.Stdout
	newProc.Stderr = os.Stderr
	if err := newProc.Start(); err != nil {
		return fmt.Errorf("start new proxy process: %w", err)
	}

	log.Logger.Info().Int("pid", newProc.Process.Pid).Bool("had_previous", hasOld).Msg("started new proxy process")

	if hasOld {
		if err := waitDrained(oldPID, drainTimeout); err != nil {
			log.Logger.Warn().Int("pid", oldPID).Err(err).Msg("old proxy process didn't exit in time, killing it")
			_ = syscall.Kill(oldPID, syscall.SIGKILL)
		}
	}

	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, false // stale pidfile, process is already gone
	}
	return pid, true
}

// waitDrained polls the old process until it exits or timeout elapses.
// haproxy's "-sf" handshake tells it to shut down once the new
// instance confirms it's bound, so this is normally fast.
func waitDrained(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("process %d still running after %s", pid, timeout)
}
