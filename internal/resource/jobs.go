package resource

import (
	"fmt"
	"log"
	"time"

	"hamasterd/internal/cluster"
	"hamasterd/internal/job"
)

// Resource job types (spec.md §4.4.2), sharing one job.Queue independent of
// the cluster queue.
const (
	JobProcStart job.Type = iota
	JobProcDereg
	JobConfirmStart
	JobConfirmDereg
	JobChangeMode
	JobDemoteStartShutdown
	JobDemoteConfirmShutdown
	JobCleanupAll
	JobConfirmCleanupAll
	JobSendMasterHostname
)

// ClusterDemoter is the one cluster-side call the resource engine makes:
// once every local server has shut down, it asks the cluster engine to run
// its DEMOTE job (spec.md §4.5). Defined here so resource never imports
// clusterproto; core wires the concrete *clusterproto.Engine in after both
// sides exist.
type ClusterDemoter interface {
	RequestDemote()
}

// Engine drives the resource job queue.
type Engine struct {
	st       *State
	queue    *job.Queue
	cluster  *cluster.State
	launcher Launcher
	killer   Killer
	demoter  ClusterDemoter
}

// NewEngine constructs a resource engine.
func NewEngine(st *State, q *job.Queue, cl *cluster.State, l Launcher, k Killer) *Engine {
	return &Engine{st: st, queue: q, cluster: cl, launcher: l, killer: k}
}

// SetDemoter wires the cluster engine's demote entrypoint in after both
// engines have been constructed.
func (e *Engine) SetDemoter(d ClusterDemoter) { e.demoter = d }

// ReprioritizeChangeMode implements clusterproto.ResourceController: run
// CHANGE_MODE immediately after winning an election.
func (e *Engine) ReprioritizeChangeMode() {
	e.queue.Reprioritize(JobChangeMode, 0)
}

// ShutdownAllServers implements clusterproto.ResourceController: FAILBACK's
// "kill every local SERVER process" step. It requests graceful shutdown of
// every SERVER immediately; stragglers are caught by the normal
// PROC_DEREG/CONFIRM_DEREG escalation ladder already running on this queue.
func (e *Engine) ShutdownAllServers() {
	for _, p := range e.st.All() {
		if p.Kind != KindServer || p.Deregistered {
			continue
		}
		e.requestDeregister(p)
	}
}

// RequestDeregisterByArgv is the admin-facing entrypoint for POST
// /deregister (spec.md §6): looks up argv and requests its deregistration
// the same way PROC_DEREG's normal path would.
func (e *Engine) RequestDeregisterByArgv(argv string) error {
	p, ok := e.st.Lookup(argv)
	if !ok {
		return fmt.Errorf("resource: no such process %q", argv)
	}
	e.requestDeregister(p)
	return nil
}

func (e *Engine) requestDeregister(p *Process) {
	p.Deregistered = true
	p.DeregConfirmAttempts = 0
	if p.Conn != nil {
		if p.Kind == KindServer {
			_ = p.Conn.RequestShutdown()
		} else {
			_ = e.killer.Terminate(p.Pid)
		}
	}
	e.queue.Enqueue(JobConfirmDereg, e.runConfirmDereg, p, e.st.cfg.ProcessDeregConfirmInterval)
}

// Start puts a freshly-configured process entry in the roster and enqueues
// PROC_START for it. The periodic CHANGE_MODE and SEND_MASTER_HOSTNAME jobs
// are armed separately by StartPeriodicJobs.
func (e *Engine) Start(p *Process) {
	e.st.Put(p)
	e.queue.Enqueue(JobProcStart, e.runProcStart, p, 0)
}

// StartPeriodicJobs arms CHANGE_MODE and SEND_MASTER_HOSTNAME, called once
// from resource-job init (spec.md §4.5 activate).
func (e *Engine) StartPeriodicJobs() {
	e.queue.Enqueue(JobChangeMode, e.runChangeMode, nil, e.st.cfg.ChangeModeInterval)
	e.queue.Enqueue(JobSendMasterHostname, e.runSendMasterHostname, nil, e.st.cfg.UpdateHostnameInterval)
}

func (e *Engine) runProcStart(arg any) {
	p := arg.(*Process)
	if p.Deregistered {
		return
	}
	if !p.FirstRegisteredAt.IsZero() {
		if wait := RecoveryDelay - time.Since(p.FirstRegisteredAt); wait > 0 {
			e.queue.Enqueue(JobProcStart, e.runProcStart, p, wait)
			return
		}
	}

	pid, err := e.launcher.Start(p.ExecPath, p.Args)
	if err != nil {
		log.Printf("resource: failed to start %s: %v", p.Argv, err)
		return
	}
	p.Pid = pid
	p.State = StateStarted
	if p.FirstRegisteredAt.IsZero() {
		p.FirstRegisteredAt = time.Now()
	}
	p.StartConfirmAttempts = 0
	e.st.Put(p)
	e.queue.Enqueue(JobConfirmStart, e.runConfirmStart, p, e.st.cfg.ProcessStartConfirmInterval)
}

func (e *Engine) runConfirmStart(arg any) {
	p := arg.(*Process)
	if e.killer.Alive(p.Pid) {
		return
	}

	p.StartConfirmAttempts++
	if p.StartConfirmAttempts < e.st.cfg.MaxProcessStartConfirm {
		e.queue.Enqueue(JobConfirmStart, e.runConfirmStart, p, e.st.cfg.ProcessStartConfirmInterval)
		return
	}

	if p.Kind == KindServer && e.cluster.SelfState() == cluster.StateMaster && !e.cluster.IsIsolated() {
		e.cluster.SetSelfState(cluster.StateSlave)
		e.queue.Enqueue(JobDemoteStartShutdown, e.runDemoteStartShutdown, nil, 0)
	}
	p.State = StateDead
}

func (e *Engine) runConfirmDereg(arg any) {
	p := arg.(*Process)
	if p.Conn == nil {
		e.st.Remove(p.Argv)
		return
	}

	p.DeregConfirmAttempts++
	if p.DeregConfirmAttempts < e.st.cfg.MaxProcessDeregConfirm {
		e.queue.Enqueue(JobConfirmDereg, e.runConfirmDereg, p, e.st.cfg.ProcessDeregConfirmInterval)
		return
	}

	_ = e.killer.Kill(p.Pid)
	_ = p.Conn.Close()
	p.Conn = nil
	e.st.Remove(p.Argv)
}

func (e *Engine) runChangeMode(any) {
	self := e.cluster.SelfState()
	for _, p := range e.st.All() {
		if p.Kind != KindServer || p.Conn == nil {
			continue
		}

		switch {
		case p.State == StateRegisteredAndStandby && self == cluster.StateMaster:
			p.State = StateRegisteredAndToBeActive
			if err := p.Conn.SendChangeMode(true); err != nil {
				log.Printf("resource: change-mode(active) to %s: %v", p.Argv, err)
			}
			p.ChangeModeGapCount = 0
		case p.State == StateRegisteredAndActive && self == cluster.StateToBeSlave:
			p.State = StateRegisteredAndToBeStandby
			if err := p.Conn.SendChangeMode(false); err != nil {
				log.Printf("resource: change-mode(standby) to %s: %v", p.Argv, err)
			}
			p.ChangeModeGapCount = 0
		case p.State == StateRegisteredAndToBeActive, p.State == StateRegisteredAndToBeStandby:
			p.ChangeModeGapCount++
			e.escalateChangeModeGap(p)
		}
	}
	e.queue.Enqueue(JobChangeMode, e.runChangeMode, nil, e.st.cfg.ChangeModeInterval)
}

func (e *Engine) escalateChangeModeGap(p *Process) {
	switch {
	case p.ChangeModeGapCount >= MaxChangeModeDiffToKill:
		_ = e.killer.Kill(p.Pid)
	case p.ChangeModeGapCount >= MaxChangeModeDiffToTerm:
		_ = e.killer.Terminate(p.Pid)
	}
}

// ConfirmChangeModeAck is called by the control-socket handler when a
// process acknowledges a pending mode change.
func (e *Engine) ConfirmChangeModeAck(argv string, nowActive bool) {
	p, ok := e.st.Lookup(argv)
	if !ok {
		return
	}
	p.ChangeModeGapCount = 0
	p.KnowsMasterHostname = false
	if nowActive {
		p.State = StateRegisteredAndActive
	} else {
		p.State = StateRegisteredAndStandby
		if e.cluster.SelfState() == cluster.StateToBeSlave {
			e.cluster.SetSelfState(cluster.StateSlave)
		}
	}
}

func (e *Engine) runDemoteStartShutdown(any) {
	for _, p := range e.st.All() {
		if p.Kind != KindServer {
			continue
		}
		if p.State == StateRegisteredAndActive || p.State == StateRegisteredAndToBeActive {
			e.requestDeregister(p)
		}
	}
	e.queue.Enqueue(JobDemoteConfirmShutdown, e.runDemoteConfirmShutdown, 0, e.st.cfg.ProcessDeregConfirmInterval)
}

func (e *Engine) runDemoteConfirmShutdown(arg any) {
	attempt := arg.(int)
	for _, p := range e.st.All() {
		if p.Kind == KindServer && p.Deregistered && p.Conn != nil {
			attempt++
			if attempt >= e.st.cfg.MaxProcessDeregConfirm {
				for _, sp := range e.st.All() {
					if sp.Kind == KindServer && sp.Deregistered {
						_ = e.killer.Kill(sp.Pid)
					}
				}
				break
			}
			e.queue.Enqueue(JobDemoteConfirmShutdown, e.runDemoteConfirmShutdown, attempt, e.st.cfg.ProcessDeregConfirmInterval)
			return
		}
	}
	if e.demoter != nil {
		e.demoter.RequestDemote()
	}
}

func (e *Engine) runCleanupAll(arg any) {
	immediate, _ := arg.(bool)
	if !immediate {
		e.st.SnapshotDeactivateInfo()
	}
	for _, p := range e.st.All() {
		if p.Kind != KindServer {
			_ = e.killer.Terminate(p.Pid)
			p.Deregistered = true
		}
	}
	e.queue.Enqueue(JobConfirmCleanupAll, e.runConfirmCleanupAll, 0, e.st.cfg.ProcessDeregConfirmInterval)
}

func (e *Engine) runConfirmCleanupAll(arg any) {
	attempt := arg.(int)
	remaining := 0
	for _, p := range e.st.All() {
		if e.killer.Alive(p.Pid) {
			remaining++
		}
	}
	if remaining == 0 {
		e.st.Clean()
		return
	}

	attempt++
	if attempt >= e.st.cfg.MaxProcessDeregConfirm {
		for _, p := range e.st.All() {
			if e.killer.Alive(p.Pid) {
				_ = e.killer.Kill(p.Pid)
			}
		}
		e.st.Clean()
		return
	}
	e.queue.Enqueue(JobConfirmCleanupAll, e.runConfirmCleanupAll, attempt, e.st.cfg.ProcessDeregConfirmInterval)
}

// RequestCleanupAll starts deactivate.prepare's CLEANUP_ALL job (spec.md
// §4.5).
func (e *Engine) RequestCleanupAll(immediate bool) {
	e.queue.Enqueue(JobCleanupAll, e.runCleanupAll, immediate, 0)
}

func (e *Engine) runSendMasterHostname(any) {
	master, ok := e.cluster.Master()
	if ok {
		for _, p := range e.st.All() {
			if p.Kind != KindServer || p.Conn == nil || p.KnowsMasterHostname {
				continue
			}
			if err := p.Conn.SendMasterHostname(master.Hostname); err != nil {
				log.Printf("resource: send master hostname to %s: %v", p.Argv, err)
				continue
			}
			p.KnowsMasterHostname = true
		}
	}
	e.queue.Enqueue(JobSendMasterHostname, e.runSendMasterHostname, nil, e.st.cfg.UpdateHostnameInterval)
}

// Register implements the HBP_PROC_REGISTER path (spec.md §4.4.4).
func (e *Engine) Register(argv, execPath string, args []string, kind Kind, pid int, conn Conn) (*Process, error) {
	p, err := e.st.Register(argv, execPath, args, kind, pid)
	if err != nil {
		return nil, err
	}
	p.Conn = conn
	if p.Kind == KindServer && p.State == StateRegistered {
		p.State = StateRegisteredAndStandby
	}
	return p, nil
}
