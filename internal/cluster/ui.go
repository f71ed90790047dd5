package cluster

import "time"

// RecordRejected inserts or replaces the unidentified-node record for
// (hostname, groupID, sourceIP). If a record already exists for that triple
// with a different reason, it is replaced rather than updated in place
// (spec.md §4.2: "If the same triple re-appears with a different reason,
// the old UI record is replaced, not updated").
func (s *State) RecordRejected(hostname, groupID, sourceIP string, reason UIReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := uiKey{Hostname: hostname, GroupID: groupID, SourceIP: sourceIP}
	now := time.Now()
	if existing, ok := s.ui[key]; ok && existing.Reason == reason {
		existing.LastSeen = now
		return
	}
	s.ui[key] = &UINode{
		Hostname: hostname,
		GroupID:  groupID,
		SourceIP: sourceIP,
		Reason:   reason,
		LastSeen: now,
	}
}

// UINodes returns a copy of every currently-tracked unidentified node.
func (s *State) UINodes() []UINode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UINode, 0, len(s.ui))
	for _, u := range s.ui {
		out = append(out, *u)
	}
	return out
}

// ReapUINodes deletes every UI-node record unseen for at least 3600s.
// Called periodically from the CHECK_VALID_PING_SERVER job, matching the
// original implementation's placement of this sweep.
func (s *State) ReapUINodes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, u := range s.ui {
		if now.Sub(u.LastSeen) >= uiReapAge {
			delete(s.ui, k)
		}
	}
}
