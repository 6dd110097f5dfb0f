// Package container implements the container source adapter on top of
// containerd: enumeration, the task-event stream, self-discovery,
// host-network detection, and an inspection cache invalidated on "die".
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/containerd/containerd"
	apievents "github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/events"
	"github.com/containerd/containerd/namespaces"
	typeurl "github.com/containerd/typeurl/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/lionelnicolas/dalidock/pkg/log"
	"github.com/lionelnicolas/dalidock/pkg/metrics"
	"github.com/lionelnicolas/dalidock/pkg/netutil"
	"github.com/lionelnicolas/dalidock/pkg/source"
	"github.com/lionelnicolas/dalidock/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace dockerd and
	// nerdctl-managed containers run under.
	DefaultNamespace = "moby"

	// cniResultsDir is where CNI plugins leave their result files,
	// named "<network>-<containerID>-eth0". It's the only place a
	// containerd-only stack records a container's IP, since containerd
	// itself (unlike the Docker Engine API) has no network model.
	cniResultsDir = "/var/lib/cni/results"
)

// Adapter is the containerd-backed container source adapter.
type Adapter struct {
	client    *containerd.Client
	namespace string

	selfIP       string
	selfHostname string

	mu    sync.Mutex
	cache map[string]containers.Container // containerID -> inspection result, invalidated on "die"
}

// New connects to containerd at socketPath, or returns a no-op adapter
// if the socket doesn't exist — adapters are always optional.
func New(socketPath string) (source.Adapter, error) {
	path := strings.TrimPrefix(socketPath, "unix://")
	if _, err := os.Stat(path); err != nil {
		log.WithComponent("container").Info().Str("socket", path).Msg("container socket absent, adapter disabled")
		return source.NewNoop("container"), nil
	}

	client, err := containerd.New(path)
	if err != nil {
		return nil, fmt.Errorf("container: connect to containerd: %w", err)
	}

	selfIP, err := netutil.PrimaryIPv4()
	if err != nil {
		return nil, fmt.Errorf("container: detect self IP: %w", err)
	}
	selfHostname, err := netutil.Hostname()
	if err != nil {
		return nil, fmt.Errorf("container: detect self hostname: %w", err)
	}

	return &Adapter{
		client:       client,
		namespace:    DefaultNamespace,
		selfIP:       selfIP,
		selfHostname: selfHostname,
		cache:        make(map[string]containers.Container),
	}, nil
}

func (a *Adapter) Name() string { return "container" }

func (a *Adapter) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, a.namespace)
}

// Enumerate lists every running container and converts it into a
// WorkloadSnapshot. Containers whose IP can't be resolved are skipped.
func (a *Adapter) Enumerate(ctx context.Context) ([]types.Workload, error) {
	nsctx := a.ctx(ctx)
	all, err := a.client.Containers(nsctx)
	if err != nil {
		return nil, fmt.Errorf("container: list containers: %w", err)
	}

	var workloads []types.Workload
	for _, c := range all {
		task, err := c.Task(nsctx, nil)
		if err != nil {
			continue // no task: the container isn't running
		}
		status, err := task.Status(nsctx)
		if err != nil || status.Status != containerd.Running {
			continue
		}
		info, err := c.Info(nsctx)
		if err != nil {
			continue
		}
		a.putCache(info)

		ws, ok := a.toWorkload(nsctx, c, info)
		if !ok {
			continue
		}
		workloads = append(workloads, ws)
	}
	return workloads, nil
}

// SelfDiscover identifies the daemon's own container by matching this
// process's primary IPv4 and host name against every running
// container's inspection result. It is fatal if none matches: the
// daemon needs its own source ID to own synthetic LB entries.
func (a *Adapter) SelfDiscover(ctx context.Context) (types.Workload, error) {
	nsctx := a.ctx(ctx)
	all, err := a.client.Containers(nsctx)
	if err != nil {
		return types.Workload{}, fmt.Errorf("container: list containers for self-discovery: %w", err)
	}

	for _, c := range all {
		info, err := c.Info(nsctx)
		if err != nil {
			continue
		}
		ws, ok := a.toWorkload(nsctx, c, info)
		if !ok {
			continue
		}
		if ws.Hostname == a.selfHostname && (ws.IP == a.selfIP || ws.Network == "host") {
			return ws, nil
		}
	}
	return types.Workload{}, fmt.Errorf("container: could not self-identify daemon container (hostname=%s ip=%s)", a.selfHostname, a.selfIP)
}

// Events subscribes to the containerd task lifecycle and maps
// TaskStart/TaskExit to Start/Stop.
func (a *Adapter) Events(ctx context.Context) (<-chan types.Event, error) {
	nsctx := a.ctx(ctx)
	envelopes, errs := a.client.Subscribe(nsctx, "topic==\"/tasks/start\"", "topic==\"/tasks/exit\"")

	out := make(chan types.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				if err != nil {
					log.WithComponent("container").Error().Err(err).Msg("event stream error")
				}
				return
			case env, ok := <-envelopes:
				if !ok {
					return
				}
				evt, ok := a.translate(nsctx, env)
				if !ok {
					continue
				}
				metrics.EventsTotal.WithLabelValues("container", string(evt.Kind)).Inc()
				out <- evt
			}
		}
	}()
	return out, nil
}

func (a *Adapter) translate(ctx context.Context, env *events.Envelope) (types.Event, bool) {
	payload, err := typeurl.UnmarshalAny(env.Event)
	if err != nil {
		log.WithComponent("container").Warn().Err(err).Msg("failed to decode event payload")
		return types.Event{}, false
	}

	switch e := payload.(type) {
	case *apievents.TaskStart:
		c, err := a.client.LoadContainer(ctx, e.ContainerID)
		if err != nil {
			return types.Event{}, false
		}
		info, err := c.Info(ctx)
		if err != nil {
			return types.Event{}, false
		}
		a.putCache(info)
		ws, ok := a.toWorkload(ctx, c, info)
		if !ok {
			log.WithComponent("container").Warn().Str("container_id", e.ContainerID).Msg("skipping start event: no resolvable IP")
			return types.Event{}, false
		}
		return types.Event{SourceID: ws.SourceID, Kind: types.EventStart, Workload: &ws}, true

	case *apievents.TaskExit:
		a.dropCache(e.ContainerID)
		return types.Event{SourceID: sourceID(e.ContainerID), Kind: types.EventStop}, true
	}
	return types.Event{}, false
}

func (a *Adapter) toWorkload(ctx context.Context, c containerd.Container, info containers.Container) (types.Workload, bool) {
	network, hostMode := a.resolveNetwork(ctx, c, info)

	var ip string
	if hostMode {
		ip = a.selfIP
	} else {
		var err error
		ip, err = resolveIPFromCNI(network, info.ID)
		if err != nil {
			return types.Workload{}, false
		}
	}

	name := strings.TrimPrefix(info.Labels["com.docker.compose.service"], "")
	if name == "" {
		name = info.ID
	}
	hostname := info.Labels["dalidock.hostname"]
	if hostname == "" {
		hostname = name
	}

	return types.Workload{
		SourceID: sourceID(info.ID),
		Name:     name,
		Hostname: hostname,
		IP:       ip,
		Network:  network,
		Labels:   info.Labels,
	}, true
}

// resolveNetwork reports the container's network label and whether it
// runs with the host's network namespace (no "network" entry in its
// OCI Linux namespaces).
func (a *Adapter) resolveNetwork(ctx context.Context, c containerd.Container, info containers.Container) (network string, hostMode bool) {
	spec, err := c.Spec(ctx)
	if err == nil && spec.Linux != nil {
		hasNetNS := false
		for _, ns := range spec.Linux.Namespaces {
			if ns.Type == specs.NetworkNamespace {
				hasNetNS = true
				break
			}
		}
		if !hasNetNS {
			return "host", true
		}
	}

	if matches, _ := filepath.Glob(filepath.Join(cniResultsDir, "*-"+info.ID+"-eth0")); len(matches) > 0 {
		base := filepath.Base(matches[0])
		network = strings.TrimSuffix(base, "-"+info.ID+"-eth0")
		return network, false
	}
	return "bridge", false
}

type cniResult struct {
	IPs []struct {
		Address string `json:"address"`
	} `json:"ips"`
}

// resolveIPFromCNI reads the IPv4 address a CNI plugin recorded for
// this container's primary interface.
func resolveIPFromCNI(network, containerID string) (string, error) {
	path := filepath.Join(cniResultsDir, network+"-"+containerID+"-eth0")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("container: no CNI result for %s: %w", containerID, err)
	}
	var res cniResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("container: parse CNI result: %w", err)
	}
	for _, addr := range res.IPs {
		ip := addr.Address
		if idx := strings.IndexByte(ip, '/'); idx >= 0 {
			ip = ip[:idx]
		}
		if ip != "" && !strings.Contains(ip, ":") { // IPv4 only
			return ip, nil
		}
	}
	return "", fmt.Errorf("container: no IPv4 address in CNI result for %s", containerID)
}

func (a *Adapter) putCache(info containers.Container) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[info.ID] = info
}

func (a *Adapter) dropCache(containerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, containerID)
}

func sourceID(containerID string) string {
	return "container:" + containerID
}
