package cluster

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Config is the subset of spec.md §6's configuration parameters this
// package consumes directly.
type Config struct {
	GroupID          string // not read by Load; the group id comes from the "group@" prefix of NodeList/ReplicaList
	NodeList         string // "group@host1,host2,..." — master-eligible, priority = list index
	ReplicaList      string // "group@host1,host2,..." — always ReplicaPriority
	PingHosts        []string
	TCPPingHosts     []PingHostPort
	MaxHeartbeatGap  int
	CalcScoreInterval time.Duration
	IsReplicaMode    bool // process-wide HA mode parameter selecting replica role
}

// PingHostPort names a TCP ping target (spec.md §6 ha_tcp_ping_hosts).
type PingHostPort struct {
	Hostname string
	Port     int
}

// State is the singleton cluster root (spec.md §3 "Cluster root"). All
// mutation happens under mu, by the single cluster job-queue worker or the
// UDP reader goroutine; readers (admin queries, metrics) take RLock.
type State struct {
	mu sync.RWMutex

	groupID  string
	local    string // local hostname
	nodes    map[string]*Node
	self     *Node
	master   *Node // nil if no current master
	pingHosts []*PingHost
	ui        map[uiKey]*UINode

	maxHeartbeatGap   int
	calcScoreInterval time.Duration

	// flags, spec.md §3 "Cluster root"
	shutdown            bool
	hideToDemote         bool
	isolated             bool
	pingCheckEnabled     bool
}

// LocalHostname returns the machine hostname, overridable in tests via the
// HAMASTERD_HOSTNAME environment variable.
func LocalHostname() (string, error) {
	if h := os.Getenv("HAMASTERD_HOSTNAME"); h != "" {
		return h, nil
	}
	return os.Hostname()
}

// Load builds a fresh State from cfg. It enforces the init invariants from
// spec.md §4.2: exactly one roster entry matches self; group ids of the two
// lists must agree when both are present; initial state is SLAVE, or
// REPLICA if self is in the replica list or cfg.IsReplicaMode selects
// replica mode.
func Load(cfg Config, hostname string) (*State, error) {
	s := &State{
		nodes:             make(map[string]*Node),
		ui:                make(map[uiKey]*UINode),
		local:             hostname,
		maxHeartbeatGap:   cfg.MaxHeartbeatGap,
		calcScoreInterval: cfg.CalcScoreInterval,
		pingCheckEnabled:  true,
	}

	masterGroup, masterHosts, err := parseList(cfg.NodeList, hostname)
	if err != nil && cfg.NodeList != "" {
		return nil, fmt.Errorf("cluster: parsing ha_node_list: %w", err)
	}
	replicaGroup, replicaHosts, err := parseList(cfg.ReplicaList, hostname)
	if err != nil && cfg.ReplicaList != "" {
		return nil, fmt.Errorf("cluster: parsing ha_replica_list: %w", err)
	}

	if masterGroup != "" && replicaGroup != "" && masterGroup != replicaGroup {
		return nil, fmt.Errorf("cluster: ha_node_list group %q does not match ha_replica_list group %q", masterGroup, replicaGroup)
	}
	s.groupID = masterGroup
	if s.groupID == "" {
		s.groupID = replicaGroup
	}
	if s.groupID == "" {
		return nil, fmt.Errorf("cluster: no group id configured")
	}

	inReplicaList := false
	for i, h := range masterHosts {
		n := &Node{Hostname: h, Priority: uint16(i), State: StateSlave}
		s.nodes[h] = n
	}
	for _, h := range replicaHosts {
		n, ok := s.nodes[h]
		if !ok {
			n = &Node{Hostname: h}
			s.nodes[h] = n
		}
		n.Priority = ReplicaPriority
		n.State = StateReplica
		if h == hostname {
			inReplicaList = true
		}
	}

	self, ok := s.nodes[hostname]
	if !ok {
		return nil, fmt.Errorf("cluster: local hostname %q not present in node or replica list", hostname)
	}
	self.IsSelf = true
	s.self = self

	if inReplicaList || cfg.IsReplicaMode {
		self.State = StateReplica
	} else {
		self.State = StateSlave
	}

	for _, hp := range cfg.PingHosts {
		s.pingHosts = append(s.pingHosts, &PingHost{Hostname: hp})
	}
	for _, hp := range cfg.TCPPingHosts {
		s.pingHosts = append(s.pingHosts, &PingHost{Hostname: hp.Hostname, Port: hp.Port})
	}
	s.markUselessPingHostsLocked()
	s.recomputeIsolatedLocked()

	return s, nil
}

// parseList splits a "group@host1,host2,..." configuration string,
// rewriting any "localhost" token to the real local hostname so that
// exactly one entry can match self (spec.md §4.2).
func parseList(spec, localhost string) (group string, hosts []string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", nil, nil
	}
	parts := strings.SplitN(spec, "@", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("expected \"group@host1,host2,...\", got %q", spec)
	}
	group = strings.TrimSpace(parts[0])
	for _, h := range strings.Split(parts[1], ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if h == "localhost" {
			h = localhost
		}
		hosts = append(hosts, h)
	}
	if group == "" || len(hosts) == 0 {
		return "", nil, fmt.Errorf("empty group id or host list in %q", spec)
	}
	return group, hosts, nil
}

// GroupID returns the cluster's group id.
func (s *State) GroupID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupID
}

// Self returns a copy of the local node entry.
func (s *State) Self() Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.self
}

// Node returns a copy of the named roster entry, if present.
func (s *State) Node(hostname string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[hostname]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Peers returns a copy of every roster entry except self.
func (s *State) Peers() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if !n.IsSelf {
			peers = append(peers, *n)
		}
	}
	return peers
}

// All returns a copy of every roster entry, including self.
func (s *State) All() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		all = append(all, *n)
	}
	return all
}

// Master returns the current master pointer, if any.
func (s *State) Master() (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.master == nil {
		return Node{}, false
	}
	return *s.master, true
}

// SelfState returns self's current role.
func (s *State) SelfState() NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self.State
}

// SetSelfState sets self's role (§4.3.4: "self's role field always
// reflects the latest externally-announced state").
func (s *State) SetSelfState(st NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self.State = st
}

// IsIsolated reports the isolated flag (every non-replica peer except self
// is UNKNOWN).
func (s *State) IsIsolated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isolated
}

// HideToDemote reports whether this node is currently suppressing
// heartbeat replies while a demote is in progress.
func (s *State) HideToDemote() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hideToDemote
}

// SetHideToDemote sets the hide-to-demote flag.
func (s *State) SetHideToDemote(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideToDemote = v
}

// PingCheckEnabled reports whether at least one ping host is usable (or no
// ping hosts are configured, or the node is isolated) — spec.md §4.2.
func (s *State) PingCheckEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingCheckEnabled
}

// SetPingCheckEnabled updates the ping-check-enabled flag. The decision
// itself (probe every ping host; enabled iff >=1 succeeds, or no hosts are
// configured, or the node is isolated) is computed by the caller — this
// package only stores the result and logs transitions, per spec.md §4.2
// ("Transitions of this flag are logged").
func (s *State) SetPingCheckEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v != s.pingCheckEnabled {
		log.Printf("cluster: ping-check-enabled transitioned to %v", v)
	}
	s.pingCheckEnabled = v
}

// PingHosts returns a copy of the configured ping-host set.
func (s *State) PingHosts() []PingHost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PingHost, len(s.pingHosts))
	for i, p := range s.pingHosts {
		out[i] = *p
	}
	return out
}

// RecordPingResult stores the outcome of probing one configured ping host.
func (s *State) RecordPingResult(hostname string, result PingResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pingHosts {
		if p.Hostname == hostname {
			p.Last = result
			return
		}
	}
}

// markUselessPingHostsLocked sets PingUselessHost, sticky, for any ping
// host whose hostname coincides with a cluster roster entry (spec.md §3).
// Caller must hold s.mu.
func (s *State) markUselessPingHostsLocked() {
	for _, p := range s.pingHosts {
		if p.Last == PingUselessHost {
			continue
		}
		if _, isNode := s.nodes[p.Hostname]; isNode {
			p.Last = PingUselessHost
		}
	}
}

// recomputeIsolatedLocked updates the isolated flag: every non-replica peer
// except self is UNKNOWN. Caller must hold s.mu.
func (s *State) recomputeIsolatedLocked() {
	isolated := true
	for _, n := range s.nodes {
		if n.IsSelf || n.Priority == ReplicaPriority {
			continue
		}
		if n.State != StateUnknown {
			isolated = false
			break
		}
	}
	if isolated != s.isolated {
		log.Printf("cluster: isolated=%v", isolated)
	}
	s.isolated = isolated
}

// snapshot captures the fields Reload must restore atomically on failure.
type snapshot struct {
	nodes     map[string]*Node
	pingHosts []*PingHost
	selfState NodeState
}

func (s *State) snapshotLocked() snapshot {
	nodesCopy := make(map[string]*Node, len(s.nodes))
	for k, n := range s.nodes {
		cp := *n
		nodesCopy[k] = &cp
	}
	pingCopy := make([]*PingHost, len(s.pingHosts))
	for i, p := range s.pingHosts {
		cp := *p
		pingCopy[i] = &cp
	}
	return snapshot{nodes: nodesCopy, pingHosts: pingCopy, selfState: s.self.State}
}

// Reload takes a full snapshot of the roster, ping-host list, and state,
// rebuilds from cfg, and on failure restores the snapshot atomically.
// The master must survive the reload (its hostname must still resolve to a
// roster entry), else Reload fails and nothing changes.
func (s *State) Reload(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshotLocked()
	masterHostname := ""
	if s.master != nil {
		masterHostname = s.master.Hostname
	}

	fresh, err := Load(cfg, s.local)
	if err != nil {
		return err
	}

	if masterHostname != "" {
		if _, ok := fresh.nodes[masterHostname]; !ok {
			return fmt.Errorf("cluster: reload would drop current master %q from the roster", masterHostname)
		}
	}

	// Preserve surviving nodes' dynamic fields (state, score, heartbeat gap,
	// last-recv time) per the reload idempotence law in spec.md §8.
	for h, n := range fresh.nodes {
		if old, ok := before.nodes[h]; ok {
			n.State = old.State
			n.Score = old.Score
			n.HeartbeatGap = old.HeartbeatGap
			n.LastRecvHB = old.LastRecvHB
		}
	}

	s.groupID = fresh.groupID
	s.nodes = fresh.nodes
	s.self = s.nodes[s.local]
	s.self.IsSelf = true
	if masterHostname != "" {
		s.master = s.nodes[masterHostname]
	} else {
		s.master = nil
	}
	s.pingHosts = fresh.pingHosts
	s.markUselessPingHostsLocked()
	s.recomputeIsolatedLocked()
	return nil
}

// SetMaster updates the master pointer to the named node, or clears it if
// hostname is empty.
func (s *State) SetMaster(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hostname == "" {
		s.master = nil
		return
	}
	s.master = s.nodes[hostname]
}

// Shutdown marks the cluster root as shut down.
func (s *State) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
}

// IsShutdown reports whether Shutdown has been called.
func (s *State) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// Reactivate clears the shutdown flag, called by admin activate after a
// prior deactivate.finalize (spec.md §4.5).
func (s *State) Reactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = false
}
