// Package clusterproto implements component C3: the UDP heartbeat wire
// format, the datagram validation pipeline, and the cluster job set
// (election, ping-gated failover/failback, demote) built on top of
// internal/cluster's state and internal/job's queue.
package clusterproto

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"hamasterd/internal/cluster"
)

// Wire layout constants. MaxHostnameLen and GroupIDLen match the reference
// implementation's CUB_MAXHOSTNAMELEN and HB_MAX_GROUP_ID_LEN.
const (
	GroupIDLen    = 64
	MaxHostnameLen = 256

	headerLen = 1 + 1 + 2 + 4 + GroupIDLen + MaxHostnameLen + MaxHostnameLen
	payloadLen = 4 // 4-byte big-endian node state

	// MsgClusterHeartbeat is the only message type the wire format defines.
	MsgClusterHeartbeat byte = 0
)

// requestBit resolves spec.md §9's open question: r occupies the header's
// high bit on every platform, not the endian-conditional bitfield layout
// the original's C struct used.
const requestBit = 0x80

// Header is the fixed, network-byte-order datagram header (spec.md
// §4.3.1), laid out byte-for-byte:
//
//	type(u8) | flags(u8, bit7=request) | len(u16) | seq(u32) |
//	group_id[64] | orig_host[256] | dest_host[256]
type Header struct {
	Type      byte
	IsRequest bool
	Len       uint16 // payload length, excluding the header
	Seq       uint32
	GroupID   string
	OrigHost  string
	DestHost  string
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		i = len(src)
	}
	return string(src[:i])
}

// EncodeHeartbeat serialises hdr plus a 4-byte big-endian state payload into
// a wire-ready datagram.
func EncodeHeartbeat(hdr Header, state cluster.NodeState) []byte {
	buf := make([]byte, headerLen+payloadLen)

	buf[0] = hdr.Type
	flags := byte(0)
	if hdr.IsRequest {
		flags |= requestBit
	}
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], hdr.Len)
	binary.BigEndian.PutUint32(buf[4:8], hdr.Seq)

	off := 8
	putFixedString(buf[off:off+GroupIDLen], hdr.GroupID)
	off += GroupIDLen
	putFixedString(buf[off:off+MaxHostnameLen], hdr.OrigHost)
	off += MaxHostnameLen
	putFixedString(buf[off:off+MaxHostnameLen], hdr.DestHost)
	off += MaxHostnameLen

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(state))
	return buf
}

// DecodeHeartbeat parses a wire datagram produced by EncodeHeartbeat. It
// returns an error only for datagrams whose size is not exactly one header
// plus one heartbeat payload — length-field mismatches and destination/group
// checks are the caller's responsibility (Validate), per spec.md §4.3.2's
// ordered checks.
func DecodeHeartbeat(buf []byte) (Header, cluster.NodeState, error) {
	if len(buf) != headerLen+payloadLen {
		return Header{}, 0, fmt.Errorf("clusterproto: datagram has wrong size (%d bytes)", len(buf))
	}

	var hdr Header
	hdr.Type = buf[0]
	hdr.IsRequest = buf[1]&requestBit != 0
	hdr.Len = binary.BigEndian.Uint16(buf[2:4])
	hdr.Seq = binary.BigEndian.Uint32(buf[4:8])

	off := 8
	hdr.GroupID = getFixedString(buf[off : off+GroupIDLen])
	off += GroupIDLen
	hdr.OrigHost = getFixedString(buf[off : off+MaxHostnameLen])
	off += MaxHostnameLen
	hdr.DestHost = getFixedString(buf[off : off+MaxHostnameLen])
	off += MaxHostnameLen

	state := cluster.NodeState(binary.BigEndian.Uint32(buf[off : off+4]))
	return hdr, state, nil
}

// PacketLen is the total datagram size EncodeHeartbeat always produces.
const PacketLen = headerLen + payloadLen
