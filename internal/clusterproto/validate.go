package clusterproto

import (
	"net"

	"hamasterd/internal/cluster"
)

// HostResolver resolves a hostname to its set of IP addresses. It is an
// interface purely so tests can substitute a fake roster-to-IP map instead
// of hitting real DNS/hosts-file resolution (spec.md §4.3.2 step 3).
type HostResolver interface {
	LookupHost(host string) ([]string, error)
}

// netResolver is the production HostResolver, backed by net.DefaultResolver.
type netResolver struct{}

func (netResolver) LookupHost(host string) ([]string, error) {
	return net.LookupHost(host)
}

// DefaultResolver is the production HostResolver.
var DefaultResolver HostResolver = netResolver{}

// Outcome is what Validate decided to do with one inbound datagram.
type Outcome int

const (
	// OutcomeDropped means the datagram failed a hard check (wrong
	// destination, length mismatch, wrong group) and must be ignored
	// entirely — no UI record, no reply, no state change.
	OutcomeDropped Outcome = iota
	// OutcomeUnidentified means the sender failed roster/IP classification;
	// it was recorded in the UI-node cache but not applied to peer state.
	OutcomeUnidentified
	// OutcomeAccepted means the sender is a known, verified roster peer and
	// its announced state was applied.
	OutcomeAccepted
)

// Validate runs spec.md §4.3.2's five-step pipeline against one decoded
// datagram. sourceIP is the UDP packet's source address (no port). resolver
// defaults to DefaultResolver when nil. It returns the outcome and whether a
// reply datagram should be sent (computed independently of the outcome,
// since step 5 fires even for an unidentified sender).
func Validate(st *cluster.State, localHostname string, hdr Header, remoteState cluster.NodeState, sourceIP string, resolver HostResolver) (outcome Outcome, shouldReply, leftMaster bool) {
	if resolver == nil {
		resolver = DefaultResolver
	}

	// Step 1: destination check.
	if hdr.DestHost != localHostname {
		return OutcomeDropped, false, false
	}

	// Step 2: length check — DecodeHeartbeat already enforces the fixed
	// total size, so this just re-asserts the advertised payload length
	// matches what we actually carry.
	if int(hdr.Len) != payloadLen {
		return OutcomeDropped, false, false
	}

	// Step 3: roster/IP classification runs before the hard group gate, so
	// a group-mismatched heartbeat from a known hostname still produces a
	// UI-node record (hb_is_heartbeat_valid classifies first; the group-id
	// re-check that actually drops the packet comes later).
	node, known := st.Node(hdr.OrigHost)
	classified := OutcomeAccepted
	var reason cluster.UIReason
	switch {
	case !known:
		classified = OutcomeUnidentified
		reason = cluster.ReasonUnidentifiedNode
	case hdr.GroupID != st.GroupID():
		classified = OutcomeUnidentified
		reason = cluster.ReasonGroupNameMismatch
	default:
		addrs, err := resolver.LookupHost(hdr.OrigHost)
		if err != nil {
			classified = OutcomeUnidentified
			reason = cluster.ReasonCannotResolveHost
		} else if !containsIP(addrs, sourceIP) {
			classified = OutcomeUnidentified
			reason = cluster.ReasonIPAddrMismatch
		}
	}
	_ = node

	if classified == OutcomeUnidentified {
		st.RecordRejected(hdr.OrigHost, hdr.GroupID, sourceIP, reason)
	}

	// Step 4: the group-id re-check drops the datagram entirely, bypassing
	// even the request-reply-to-unknown-sender rule in step 5 — but only
	// after step 3 has already recorded the UI node above.
	if hdr.GroupID != st.GroupID() {
		return OutcomeDropped, false, false
	}

	// Step 5: reply even to an unidentified sender, unless hiding to demote.
	shouldReply = hdr.IsRequest && !st.HideToDemote()

	if classified == OutcomeUnidentified {
		return OutcomeUnidentified, shouldReply, false
	}

	leftMaster = st.ApplyHeartbeat(hdr.OrigHost, remoteState)
	return OutcomeAccepted, shouldReply, leftMaster
}

func containsIP(addrs []string, ip string) bool {
	for _, a := range addrs {
		if a == ip {
			return true
		}
	}
	return false
}
