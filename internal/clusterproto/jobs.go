package clusterproto

import (
	"log"
	"sync/atomic"
	"time"

	"hamasterd/internal/cluster"
	"hamasterd/internal/job"
)

// Cluster job types (spec.md §4.3.3), sharing one job.Queue.
const (
	JobInit job.Type = iota
	JobHeartbeat
	JobCalcScore
	JobCheckPing
	JobFailover
	JobFailback
	JobCheckValidPingServer
	JobDemote
)

// Timing and retry constants. MaxPingCheck and the valid/invalid
// ping-server sweep intervals are sourced from original_source's
// master_heartbeat.hpp (HB_MAX_PING_CHECK, and the 3600s/300s sweep
// pair); spec.md names the job but not every literal.
const (
	MaxPingCheck               = 3
	MaxWaitForNewMaster        = 60
	ValidPingServerInterval    = 3600 * time.Second
	InvalidPingServerInterval  = 300 * time.Second
	DemotePollInterval         = time.Second
	CheckPingRetryInterval     = 200 * time.Millisecond
	ToBeMasterCheckPingDelay   = 100 * time.Millisecond
	FailoverFastWait           = 500 * time.Millisecond
)

// Config carries the subset of spec.md §6's timing parameters this engine
// consumes.
type Config struct {
	HeartbeatInterval time.Duration
	CalcScoreInterval time.Duration
	InitTimer         time.Duration
	FailoverWaitTime  time.Duration
}

// Pinger probes one configured ping host, real ICMP/TCP work living in
// internal/pinghost so this package stays free of raw sockets.
type Pinger interface {
	Ping(h cluster.PingHost) cluster.PingResult
}

// ResourceController is the slice of the resource supervisor (C4) that the
// cluster engine drives directly: reprioritizing its CHANGE_MODE job after
// winning an election, and tearing down local server processes on failback.
// Defined here (not imported from internal/resource) so resource never has
// to import clusterproto — resource.State implements this interface.
type ResourceController interface {
	ReprioritizeChangeMode()
	ShutdownAllServers()
}

// Engine drives the cluster job queue: one HEARTBEAT/CALC_SCORE/CHECK_PING/
// FAILOVER/FAILBACK/DEMOTE/CHECK_VALID_PING_SERVER state machine per spec.md
// §4.3.3, built on cluster.State + job.Queue.
type Engine struct {
	st        *cluster.State
	queue     *job.Queue
	transport Transport
	resource  ResourceController
	pinger    Pinger
	cfg       Config
	local     string

	seq uint32 // atomic, heartbeat sequence nonce

	pingChecks      int
	demoteRounds    int
}

// Transport sends an encoded heartbeat datagram to the named peer.
// UDPTransport (transport.go) implements this in production;
// tests supply an in-memory fake.
type Transport interface {
	SendTo(hostname string, pkt []byte) error
}

// NewEngine constructs a cluster protocol engine. queue must be otherwise
// unused — Engine owns its lifecycle end to end.
func NewEngine(st *cluster.State, q *job.Queue, t Transport, rc ResourceController, p Pinger, cfg Config, localHostname string) *Engine {
	return &Engine{st: st, queue: q, transport: t, resource: rc, pinger: p, cfg: cfg, local: localHostname}
}

// Start enqueues the initial INIT job, beginning the perpetual clock.
func (e *Engine) Start() {
	e.queue.Enqueue(JobInit, e.runInit, nil, e.cfg.InitTimer)
}

func (e *Engine) nextSeq() uint32 {
	return atomic.AddUint32(&e.seq, 1)
}

// sendState unicasts a heartbeat carrying the given state to every peer
// except self.
func (e *Engine) sendState(state cluster.NodeState, isRequest bool) {
	group := e.st.GroupID()
	for _, n := range e.st.Peers() {
		hdr := Header{
			Type:      MsgClusterHeartbeat,
			IsRequest: isRequest,
			Len:       payloadLen,
			Seq:       e.nextSeq(),
			GroupID:   group,
			OrigHost:  e.local,
			DestHost:  n.Hostname,
		}
		pkt := EncodeHeartbeat(hdr, state)
		if err := e.transport.SendTo(n.Hostname, pkt); err != nil {
			log.Printf("clusterproto: send to %s failed: %v", n.Hostname, err)
		}
	}
}

func (e *Engine) runInit(any) {
	e.queue.Enqueue(JobHeartbeat, e.runHeartbeat, nil, 0)
	e.queue.Enqueue(JobCalcScore, e.runCalcScore, nil, e.cfg.CalcScoreInterval)
	e.queue.Enqueue(JobCheckValidPingServer, e.runCheckValidPingServer, nil, 0)
}

func (e *Engine) runHeartbeat(any) {
	e.st.IncHeartbeatGap()
	e.sendState(e.st.SelfState(), true)
	e.queue.Enqueue(JobHeartbeat, e.runHeartbeat, nil, e.cfg.HeartbeatInterval)
}

func (e *Engine) runCalcScore(any) {
	res := e.st.Recalc()
	self := e.st.Self()

	switch {
	case self.State == cluster.StateMaster && e.st.IsIsolated():
		e.pingChecks = 0
		e.queue.Enqueue(JobCheckPing, e.runCheckPing, nil, 0)
	case res.NumMaster > 1 && self.State == cluster.StateMaster && res.MasterHostname != e.local:
		e.queue.Enqueue(JobFailback, e.runFailback, nil, 0)
	case self.State == cluster.StateSlave && res.MasterHostname == e.local:
		e.st.SetSelfState(cluster.StateToBeMaster)
		e.pingChecks = 0
		e.queue.Enqueue(JobCheckPing, e.runCheckPing, nil, ToBeMasterCheckPingDelay)
	}

	e.queue.Enqueue(JobCalcScore, e.runCalcScore, nil, e.cfg.CalcScoreInterval)
}

func (e *Engine) pingOK() bool {
	hosts := e.st.PingHosts()
	if len(hosts) == 0 {
		return true
	}
	ok := false
	for _, h := range hosts {
		if h.Last == cluster.PingUselessHost {
			continue
		}
		result := e.pinger.Ping(h)
		e.st.RecordPingResult(h.Hostname, result)
		if result == cluster.PingSuccess {
			ok = true
		}
	}
	return ok
}

func (e *Engine) failoverWait() time.Duration {
	if e.st.AllHeartbeatsReceivedThisRound() {
		return FailoverFastWait
	}
	return e.cfg.FailoverWaitTime
}

// runCheckPing decides whether an isolated MASTER should fail back or a
// TO_BE_MASTER slave should fail over, by repeatedly probing the configured
// ping hosts. A genuine ping failure on a non-master, or a genuine ping
// success on the MASTER, cancels the transition immediately — the result
// only needs to persist across MaxPingCheck rounds for the opposite case
// before it commits to FAILOVER/FAILBACK.
func (e *Engine) runCheckPing(any) {
	self := e.st.Self()

	if len(e.st.PingHosts()) == 0 {
		// No ping hosts configured: a MASTER cancels outright (staying
		// MASTER rather than risk a split-brain failback); a non-master
		// commits straight to FAILOVER with nothing to confirm.
		if self.State == cluster.StateMaster {
			e.cancelCheckPing(self)
			return
		}
		e.commitCheckPing(self)
		return
	}

	ok := e.pingOK()

	cancel := false
	switch {
	case self.State == cluster.StateMaster && ok:
		cancel = true
	case self.State != cluster.StateMaster && !ok:
		cancel = true
	}

	if cancel {
		e.cancelCheckPing(self)
		return
	}

	e.pingChecks++
	if e.pingChecks < MaxPingCheck {
		e.queue.Enqueue(JobCheckPing, e.runCheckPing, nil, CheckPingRetryInterval)
		return
	}

	e.commitCheckPing(self)
}

// cancelCheckPing vetoes the pending transition: a non-master reverts to
// SLAVE ("Failover cancelled by ping check"); a MASTER simply stays put.
func (e *Engine) cancelCheckPing(self cluster.Node) {
	if self.State != cluster.StateMaster {
		log.Printf("clusterproto: Failover cancelled by ping check")
		e.st.SetSelfState(cluster.StateSlave)
	}
}

func (e *Engine) commitCheckPing(self cluster.Node) {
	if self.State == cluster.StateMaster {
		e.queue.Enqueue(JobFailback, e.runFailback, nil, 0)
		return
	}
	e.queue.Enqueue(JobFailover, e.runFailover, nil, e.failoverWait())
}

func (e *Engine) runFailover(any) {
	res := e.st.Recalc()
	if res.MasterHostname == e.local {
		e.st.SetSelfState(cluster.StateMaster)
		e.resource.ReprioritizeChangeMode()
	} else {
		e.st.SetSelfState(cluster.StateSlave)
	}
	e.queue.Enqueue(JobCalcScore, e.runCalcScore, nil, e.cfg.CalcScoreInterval)
}

func (e *Engine) runFailback(any) {
	e.st.SetSelfState(cluster.StateSlave)
	e.sendState(cluster.StateSlave, true)
	e.resource.ShutdownAllServers()
	e.queue.Enqueue(JobCalcScore, e.runCalcScore, nil, e.cfg.CalcScoreInterval)
}

// RequestDemote starts the DEMOTE job. The resource supervisor calls it once
// every local server has shut down, and core.Demote calls it directly on an
// admin demote request (spec.md §4.5).
func (e *Engine) RequestDemote() {
	e.st.SetHideToDemote(true)
	e.demoteRounds = 0
	e.queue.Enqueue(JobDemote, e.runDemote, nil, 0)
}

func (e *Engine) runDemote(any) {
	if e.demoteRounds == 0 {
		e.sendState(cluster.StateUnknown, true)
	}

	for _, p := range e.st.Peers() {
		if p.State == cluster.StateMaster {
			e.st.SetHideToDemote(false)
			return
		}
	}

	e.demoteRounds++
	if e.demoteRounds >= MaxWaitForNewMaster || e.st.IsIsolated() {
		e.st.SetSelfState(cluster.StateMaster)
		e.st.SetHideToDemote(false)
		return
	}
	e.queue.Enqueue(JobDemote, e.runDemote, nil, DemotePollInterval)
}

func (e *Engine) runCheckValidPingServer(any) {
	e.st.ReapUINodes()
	hosts := e.st.PingHosts()
	enabled := true
	if len(hosts) > 0 && !e.st.IsIsolated() {
		enabled = e.pingOK()
	}
	e.st.SetPingCheckEnabled(enabled)

	delay := ValidPingServerInterval
	if !enabled {
		delay = InvalidPingServerInterval
	}
	e.queue.Enqueue(JobCheckValidPingServer, e.runCheckValidPingServer, nil, delay)
}
