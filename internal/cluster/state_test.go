package cluster

import "testing"

func testConfig() Config {
	return Config{
		NodeList:        "mygroup@nodeA,nodeB",
		MaxHeartbeatGap:  5,
		CalcScoreInterval: 0,
	}
}

func TestLoadAssignsPriorityByIndex(t *testing.T) {
	s, err := Load(testConfig(), "nodeA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, _ := s.Node("nodeA")
	b, _ := s.Node("nodeB")
	if a.Priority != 0 || b.Priority != 1 {
		t.Fatalf("expected priorities 0,1 got %d,%d", a.Priority, b.Priority)
	}
	if !a.IsSelf {
		t.Fatal("expected nodeA to be self")
	}
	if a.State != StateSlave {
		t.Fatalf("expected initial state SLAVE, got %v", a.State)
	}
}

func TestLoadRewritesLocalhost(t *testing.T) {
	cfg := Config{NodeList: "g@localhost,nodeB", MaxHeartbeatGap: 5}
	s, err := Load(cfg, "nodeA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Node("nodeA"); !ok {
		t.Fatal("expected localhost rewritten to nodeA")
	}
}

func TestLoadRejectsMissingSelf(t *testing.T) {
	_, err := Load(testConfig(), "nodeZ")
	if err == nil {
		t.Fatal("expected error when local hostname is absent from roster")
	}
}

func TestLoadRejectsGroupMismatch(t *testing.T) {
	cfg := Config{
		NodeList:    "groupA@nodeA,nodeB",
		ReplicaList: "groupB@nodeC",
	}
	_, err := Load(cfg, "nodeA")
	if err == nil {
		t.Fatal("expected group id mismatch error")
	}
}

func TestReplicaListSetsReplicaPriorityAndState(t *testing.T) {
	cfg := Config{
		NodeList:    "g@nodeA,nodeB",
		ReplicaList: "g@nodeC",
	}
	s, err := Load(cfg, "nodeC")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	self := s.Self()
	if self.Priority != ReplicaPriority {
		t.Fatalf("expected replica priority, got %d", self.Priority)
	}
	if self.State != StateReplica {
		t.Fatalf("expected state REPLICA, got %v", self.State)
	}
}

func TestReloadPreservesSurvivingNodeDynamicFields(t *testing.T) {
	s, err := Load(testConfig(), "nodeA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.ApplyHeartbeat("nodeB", StateSlave)
	before, _ := s.Node("nodeB")

	if err := s.Reload(testConfig()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	after, _ := s.Node("nodeB")
	if after.LastRecvHB != before.LastRecvHB {
		t.Fatal("expected LastRecvHB preserved across reload")
	}
}

func TestReloadFailsIfMasterDropped(t *testing.T) {
	s, err := Load(testConfig(), "nodeA")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.SetMaster("nodeB")

	cfg := Config{NodeList: "mygroup@nodeA", MaxHeartbeatGap: 5}
	if err := s.Reload(cfg); err == nil {
		t.Fatal("expected reload to fail when master would be dropped")
	}
	// original roster must be untouched
	if _, ok := s.Node("nodeB"); !ok {
		t.Fatal("expected failed reload to leave roster unchanged")
	}
}

func TestRecordRejectedReplacesOnReasonChange(t *testing.T) {
	s, _ := Load(testConfig(), "nodeA")
	s.RecordRejected("stranger", "g", "10.0.0.9", ReasonUnidentifiedNode)
	s.RecordRejected("stranger", "g", "10.0.0.9", ReasonIPAddrMismatch)

	nodes := s.UINodes()
	if len(nodes) != 1 {
		t.Fatalf("expected exactly one UI node record, got %d", len(nodes))
	}
	if nodes[0].Reason != ReasonIPAddrMismatch {
		t.Fatalf("expected replaced reason IPAddrMismatch, got %v", nodes[0].Reason)
	}
}

func TestIsolatedWhenAllPeersUnknown(t *testing.T) {
	s, _ := Load(testConfig(), "nodeA")
	if s.IsIsolated() {
		t.Fatal("expected not isolated right after load: peer nodeB starts known (SLAVE)")
	}

	s.mu.Lock()
	s.nodes["nodeB"].State = StateUnknown
	s.recomputeIsolatedLocked()
	s.mu.Unlock()

	if !s.IsIsolated() {
		t.Fatal("expected isolated once every peer is UNKNOWN")
	}
}

func TestRecalcPicksLowestScore(t *testing.T) {
	s, _ := Load(testConfig(), "nodeA")
	s.ApplyHeartbeat("nodeB", StateSlave)
	res := s.Recalc()
	if res.MasterHostname != "nodeA" {
		t.Fatalf("expected nodeA (priority 0) to win, got %q", res.MasterHostname)
	}
}

func TestHeartbeatGapFloorsAtZero(t *testing.T) {
	s, _ := Load(testConfig(), "nodeA")
	s.ApplyHeartbeat("nodeB", StateSlave)
	n, _ := s.Node("nodeB")
	if n.HeartbeatGap != 0 {
		t.Fatalf("expected heartbeat gap to stay at floor 0, got %d", n.HeartbeatGap)
	}
}
