package cluster

import "time"

// ApplyHeartbeat updates the named peer's state from an accepted inbound
// heartbeat (spec.md §4.3.2, post-validation). It decrements heartbeat_gap
// with floor 0, sets last_recv_hbtime to now, and reports whether the peer
// just transitioned out of MASTER — the caller (clusterproto) uses that to
// reprioritize CALC_SCORE to run immediately.
func (s *State) ApplyHeartbeat(hostname string, remoteState NodeState) (wasMaster bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[hostname]
	if !ok {
		return false
	}
	wasMaster = n.State == StateMaster
	n.State = remoteState
	if n.HeartbeatGap > 0 {
		n.HeartbeatGap--
	}
	n.LastRecvHB = time.Now()
	return wasMaster && n.State != StateMaster
}
