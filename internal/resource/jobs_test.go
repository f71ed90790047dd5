package resource

import (
	"testing"
	"time"

	"hamasterd/internal/cluster"
	"hamasterd/internal/job"
)

type fakeLauncher struct {
	pid int
	err error
}

func (f *fakeLauncher) Start(execPath string, args []string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.pid++
	return f.pid, nil
}

type fakeKiller struct {
	alive              map[int]bool
	terminated, killed []int
}

func newFakeKiller() *fakeKiller { return &fakeKiller{alive: make(map[int]bool)} }

func (k *fakeKiller) Alive(pid int) bool { return k.alive[pid] }
func (k *fakeKiller) Terminate(pid int) error {
	k.terminated = append(k.terminated, pid)
	return nil
}
func (k *fakeKiller) Kill(pid int) error {
	k.killed = append(k.killed, pid)
	return nil
}

type fakeConn struct {
	changeModeCalls []bool
	getEOFCalls     int
	shutdownCalls   int
	closed          bool
	masterHostname  string
}

func (c *fakeConn) SendChangeMode(active bool) error     { c.changeModeCalls = append(c.changeModeCalls, active); return nil }
func (c *fakeConn) SendGetEOF() error                    { c.getEOFCalls++; return nil }
func (c *fakeConn) SendMasterHostname(h string) error     { c.masterHostname = h; return nil }
func (c *fakeConn) RequestShutdown() error                { c.shutdownCalls++; return nil }
func (c *fakeConn) Close() error                          { c.closed = true; return nil }

func testClusterState(t *testing.T) *cluster.State {
	t.Helper()
	s, err := cluster.Load(cluster.Config{NodeList: "g@nodeA,nodeB", MaxHeartbeatGap: 5}, "nodeA")
	if err != nil {
		t.Fatalf("cluster.Load: %v", err)
	}
	return s
}

func testEngine(t *testing.T) (*Engine, *fakeLauncher, *fakeKiller) {
	t.Helper()
	cfg := Config{
		ChangeModeInterval:          time.Hour,
		ProcessStartConfirmInterval: time.Hour,
		ProcessDeregConfirmInterval: time.Hour,
		MaxProcessStartConfirm:      3,
		MaxProcessDeregConfirm:      3,
		UpdateHostnameInterval:      time.Hour,
	}
	st := New(cfg)
	cl := testClusterState(t)
	l := &fakeLauncher{}
	k := newFakeKiller()
	e := NewEngine(st, job.New(), cl, l, k)
	return e, l, k
}

func TestRunProcStartTransitionsToStartedAndArmsConfirm(t *testing.T) {
	e, _, _ := testEngine(t)
	p := &Process{Argv: "server1", ExecPath: "/bin/server", Kind: KindServer}
	e.runProcStart(p)
	if p.State != StateStarted {
		t.Fatalf("expected STARTED, got %v", p.State)
	}
	if p.Pid == 0 {
		t.Fatal("expected a pid to be assigned")
	}
	if p.FirstRegisteredAt.IsZero() {
		t.Fatal("expected FirstRegisteredAt set")
	}
	if d := e.queue.Depth(); d != 1 {
		t.Fatalf("expected CONFIRM_START armed (queue depth 1), got depth %d", d)
	}
}

func TestRunProcStartDropsDeregisteredEntry(t *testing.T) {
	e, l, _ := testEngine(t)
	p := &Process{Argv: "server1", Deregistered: true}
	e.runProcStart(p)
	if l.pid != 0 {
		t.Fatal("expected no launch attempt for a deregistered entry")
	}
}

func TestRunProcStartDelaysWithinRecoveryWindow(t *testing.T) {
	e, l, _ := testEngine(t)
	p := &Process{Argv: "server1", FirstRegisteredAt: time.Now()}
	e.runProcStart(p)
	if l.pid != 0 {
		t.Fatal("expected the restart to be delayed, not launched immediately")
	}
	if e.queue.Depth() != 1 {
		t.Fatalf("expected one re-armed PROC_START job, got depth %d", e.queue.Depth())
	}
}

func TestRunConfirmStartDemotesMasterAfterMaxRetries(t *testing.T) {
	e, _, k := testEngine(t)
	e.cluster.SetSelfState(cluster.StateMaster)
	p := &Process{Argv: "server1", Pid: 99, Kind: KindServer}
	k.alive[99] = false

	for i := 0; i < e.st.cfg.MaxProcessStartConfirm; i++ {
		e.runConfirmStart(p)
	}

	if e.cluster.SelfState() != cluster.StateSlave {
		t.Fatalf("expected demotion to SLAVE after exhausted confirm retries, got %v", e.cluster.SelfState())
	}
	if p.State != StateDead {
		t.Fatalf("expected process marked DEAD, got %v", p.State)
	}
}

func TestRunConfirmStartNoOpWhileAlive(t *testing.T) {
	e, _, k := testEngine(t)
	p := &Process{Argv: "server1", Pid: 5}
	k.alive[5] = true
	e.runConfirmStart(p)
	if p.State == StateDead {
		t.Fatal("expected a live process to not be marked dead")
	}
}

func TestChangeModeEscalatesToTermThenKill(t *testing.T) {
	e, _, k := testEngine(t)
	conn := &fakeConn{}
	p := &Process{Argv: "server1", Pid: 7, Kind: KindServer, Conn: conn, State: StateRegisteredAndToBeActive, ChangeModeGapCount: MaxChangeModeDiffToTerm - 1}
	e.st.Put(p)

	e.runChangeMode(nil)
	if len(k.terminated) != 1 {
		t.Fatalf("expected SIGTERM at gap==%d, got terminated=%v", MaxChangeModeDiffToTerm, k.terminated)
	}

	p.ChangeModeGapCount = MaxChangeModeDiffToKill - 1
	e.runChangeMode(nil)
	if len(k.killed) != 1 {
		t.Fatalf("expected SIGKILL at gap==%d, got killed=%v", MaxChangeModeDiffToKill, k.killed)
	}
}

func TestChangeModeRequestsActiveWhenMasterAndStandby(t *testing.T) {
	e, _, _ := testEngine(t)
	e.cluster.SetSelfState(cluster.StateMaster)
	conn := &fakeConn{}
	p := &Process{Argv: "server1", Kind: KindServer, Conn: conn, State: StateRegisteredAndStandby}
	e.st.Put(p)

	e.runChangeMode(nil)
	if p.State != StateRegisteredAndToBeActive {
		t.Fatalf("expected REGISTERED_AND_TO_BE_ACTIVE, got %v", p.State)
	}
	if len(conn.changeModeCalls) != 1 || !conn.changeModeCalls[0] {
		t.Fatalf("expected one change-mode(active) call, got %v", conn.changeModeCalls)
	}
}

func TestConfirmChangeModeAckPullsSelfToSlave(t *testing.T) {
	e, _, _ := testEngine(t)
	e.cluster.SetSelfState(cluster.StateToBeSlave)
	p := &Process{Argv: "server1", Kind: KindServer, State: StateRegisteredAndToBeStandby}
	e.st.Put(p)

	e.ConfirmChangeModeAck("server1", false)
	if p.State != StateRegisteredAndStandby {
		t.Fatalf("expected REGISTERED_AND_STANDBY, got %v", p.State)
	}
	if e.cluster.SelfState() != cluster.StateSlave {
		t.Fatalf("expected local resource state pulled to SLAVE, got %v", e.cluster.SelfState())
	}
}

func TestIsDeactivationReadyRequiresNilConns(t *testing.T) {
	e, _, _ := testEngine(t)
	p := &Process{Argv: "server1", Conn: &fakeConn{}}
	e.st.Put(p)
	if e.st.IsDeactivationReady() {
		t.Fatal("expected not ready while a connection remains")
	}
	p.Conn = nil
	if !e.st.IsDeactivationReady() {
		t.Fatal("expected ready once every connection is nil")
	}
}

func TestSendMasterHostnamePushesOnceThenFlagsKnown(t *testing.T) {
	e, _, _ := testEngine(t)
	e.cluster.SetMaster("nodeA")
	conn := &fakeConn{}
	p := &Process{Argv: "server1", Kind: KindServer, Conn: conn}
	e.st.Put(p)

	e.runSendMasterHostname(nil)
	if conn.masterHostname != "nodeA" {
		t.Fatalf("expected master hostname pushed, got %q", conn.masterHostname)
	}
	if !p.KnowsMasterHostname {
		t.Fatal("expected knows_master_hostname set")
	}

	conn.masterHostname = ""
	e.runSendMasterHostname(nil)
	if conn.masterHostname != "" {
		t.Fatal("expected no repeat push once knows_master_hostname is set")
	}
}

func TestCheckDiskHangDemotesActiveMasterOnStagnantEOF(t *testing.T) {
	e, _, _ := testEngine(t)
	e.cluster.SetSelfState(cluster.StateMaster)
	conn := &fakeConn{}
	p := &Process{Argv: "server1", Kind: KindServer, State: StateRegisteredAndActive, Conn: conn, LastEOF: 100, PrevCheckEOF: 100}
	e.st.Put(p)

	e.checkDiskHang()
	if !p.Hung {
		t.Fatal("expected server flagged hung on stagnant EOF")
	}
	if e.cluster.SelfState() != cluster.StateSlave {
		t.Fatalf("expected demotion to SLAVE on disk hang, got %v", e.cluster.SelfState())
	}
	if conn.getEOFCalls != 1 {
		t.Fatalf("expected a fresh SERVER_GET_EOF request, got %d", conn.getEOFCalls)
	}
}

func TestCheckDiskHangClearsFlagOnFreshEOF(t *testing.T) {
	e, _, _ := testEngine(t)
	conn := &fakeConn{}
	p := &Process{Argv: "server1", Kind: KindServer, State: StateRegisteredAndActive, Conn: conn, LastEOF: 101, PrevCheckEOF: 100, Hung: true}
	e.st.Put(p)

	e.checkDiskHang()
	if p.Hung {
		t.Fatal("expected hang flag cleared once EOF advances")
	}
}
