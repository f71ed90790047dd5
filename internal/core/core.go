// Package core wires the cluster engine, the resource supervisor, and their
// shared ambient services (control socket, ping prober, event log, metrics)
// into one daemon lifecycle, matching the teacher's own cmd/dplaned "root
// struct owns every subsystem" layout.
package core

import (
	"context"
	"fmt"
	"log"
	"sync"

	"hamasterd/internal/cluster"
	"hamasterd/internal/clusterproto"
	"hamasterd/internal/cmdutil"
	"hamasterd/internal/config"
	"hamasterd/internal/controlsock"
	"hamasterd/internal/eventlog"
	"hamasterd/internal/job"
	"hamasterd/internal/metrics"
	"hamasterd/internal/pinghost"
	"hamasterd/internal/resource"
)

// Core owns every subsystem of the HA control plane (spec.md §4.5 "server
// lifecycle"). Exactly one Core exists per daemon process.
type Core struct {
	cfg *config.Config

	ClusterState  *cluster.State
	ResourceState *resource.State
	ClusterEngine *clusterproto.Engine
	ResourceEngine *resource.Engine
	EventLog      *eventlog.Logger
	Metrics       *metrics.Metrics

	clusterQueue  *job.Queue
	resourceQueue *job.Queue
	transport     *clusterproto.UDPTransport
	listener      interface{ Close() error }

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
}

// New constructs every subsystem from cfg but starts nothing — callers run
// Start to bring the daemon live, mirroring the teacher's two-phase
// "build, then run" daemon bootstrap.
func New(cfg *config.Config) (*Core, error) {
	hostname, err := cluster.LocalHostname()
	if err != nil {
		return nil, fmt.Errorf("core: determine local hostname: %w", err)
	}

	clusterState, err := cluster.Load(cfg.ClusterConfig(), hostname)
	if err != nil {
		return nil, fmt.Errorf("core: load cluster state: %w", err)
	}
	resourceState := resource.New(cfg.ResourceConfig())

	evlog, err := eventlog.Open(cfg.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("core: open event log: %w", err)
	}

	transport, err := clusterproto.NewUDPTransport(cfg.HAPortID)
	if err != nil {
		evlog.Close()
		return nil, fmt.Errorf("core: open cluster UDP transport: %w", err)
	}

	clusterQueue := job.New()
	resourceQueue := job.New()

	resourceEngine := resource.NewEngine(resourceState, resourceQueue, clusterState, resource.ExecLauncher{}, resource.UnixKiller{})
	clusterEngine := clusterproto.NewEngine(clusterState, clusterQueue, transport, resourceEngine, pinghost.Prober{}, cfg.ClusterProtoConfig(), hostname)
	resourceEngine.SetDemoter(clusterEngine)

	return &Core{
		cfg:            cfg,
		ClusterState:   clusterState,
		ResourceState:  resourceState,
		ClusterEngine:  clusterEngine,
		ResourceEngine: resourceEngine,
		EventLog:       evlog,
		Metrics:        metrics.New(),
		clusterQueue:   clusterQueue,
		resourceQueue:  resourceQueue,
		transport:      transport,
	}, nil
}

// Start launches every background goroutine: the two job-queue workers, the
// UDP reader loop, the disk-hang detector, the control-socket listener, and
// the event-log flusher. Calling Start twice is a no-op.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	ln, err := controlsock.Listen(c.cfg.ControlSocketPath)
	if err != nil {
		cancel()
		return fmt.Errorf("core: listen on control socket: %w", err)
	}
	c.listener = ln

	c.spawn(func() { job.Worker(runCtx, c.clusterQueue) })
	c.spawn(func() { job.Worker(runCtx, c.resourceQueue) })
	c.spawn(func() { clusterproto.ReadLoop(runCtx, c.transport, c.ClusterState, c.ClusterState.Self().Hostname, c.ClusterEngine, nil) })
	c.spawn(func() { c.ResourceEngine.RunDiskHangDetector(runCtx) })
	c.spawn(func() { controlsock.Serve(ln, c.ResourceEngine) })
	c.spawn(func() { c.EventLog.Run(runCtx) })

	c.ClusterEngine.Start()
	c.ResourceEngine.StartPeriodicJobs()
	c.EventLog.Log("lifecycle", "core started")
	c.started = true
	return nil
}

func (c *Core) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Activate brings a freshly-started, previously-deactivated node back into
// the cluster (spec.md §4.5): clears the resource shutdown flag and
// re-arms the cluster INIT job.
func (c *Core) Activate() error {
	c.ResourceState.SetShutdown(false)
	c.ClusterState.Reactivate()
	c.ClusterEngine.Start()
	c.EventLog.Log("lifecycle", "activate")
	return nil
}

// DeactivatePrepare begins a graceful deactivation (spec.md §4.5): marks the
// resource root shutting down and requests CLEANUP_ALL, which terminates
// every local non-server child process and records the active SERVER
// processes to wait for, without yet tearing down cluster membership.
func (c *Core) DeactivatePrepare() {
	c.ResourceState.SetShutdown(true)
	c.ResourceEngine.RequestCleanupAll(false)
	c.EventLog.Log("lifecycle", "deactivate.prepare")
}

// DeactivateFinalize completes deactivation once IsDeactivationReady
// reports every process connection closed; it cleans the resource roster
// and marks the cluster root shut down. Returns false without effect if the
// readiness gate has not been met.
func (c *Core) DeactivateFinalize() bool {
	if !c.ResourceState.IsDeactivationReady() {
		return false
	}
	c.ResourceState.Clean()
	c.ClusterState.Shutdown()
	c.EventLog.Log("lifecycle", "deactivate.finalize")
	return true
}

// Reload re-parses the roster configuration in place (spec.md §4.5).
func (c *Core) Reload(cfg *config.Config) error {
	if err := c.ClusterState.Reload(cfg.ClusterConfig()); err != nil {
		return fmt.Errorf("core: reload cluster config: %w", err)
	}
	c.cfg = cfg
	c.EventLog.Log("lifecycle", "reload")
	return nil
}

// Demote requests an administrator-initiated demote of this node (spec.md
// §4.3.4 DEMOTE).
func (c *Core) Demote() {
	c.ClusterEngine.RequestDemote()
	c.EventLog.Log("lifecycle", "admin demote requested")
}

// Deregister handles POST /deregister (spec.md §6): asks the resource
// supervisor to tear down a named child process through the normal
// CONFIRM_DEREG escalation ladder.
func (c *Core) Deregister(argv string) error {
	if err := c.ResourceEngine.RequestDeregisterByArgv(argv); err != nil {
		return err
	}
	c.EventLog.Log("admin", fmt.Sprintf("deregister requested for %s", argv))
	return nil
}

// UtilProcessStart runs a short-lived, bounded-timeout administrative
// command (spec.md §6 "util-process start") — tooling invocations that are
// not supervised server/util children, just a one-shot external command.
func (c *Core) UtilProcessStart(ctx context.Context, name string, args []string) (string, error) {
	res, err := cmdutil.RunMedium(ctx, name, args...)
	c.EventLog.Log("admin", fmt.Sprintf("util-process start: %s %v", name, args))
	if err != nil {
		return res.Stdout, err
	}
	return res.Stdout, nil
}

// Close stops every background goroutine and releases sockets and files.
// It blocks until all goroutines have returned.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.cancel()
	if c.listener != nil {
		c.listener.Close()
	}
	c.transport.Close()
	c.wg.Wait()
	err := c.EventLog.Close()
	c.started = false
	log.Println("core: shut down")
	return err
}
