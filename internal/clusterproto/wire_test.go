package clusterproto

import (
	"testing"

	"hamasterd/internal/cluster"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hdr := Header{
		Type:      MsgClusterHeartbeat,
		IsRequest: true,
		Len:       payloadLen,
		Seq:       42,
		GroupID:   "mygroup",
		OrigHost:  "nodeA",
		DestHost:  "nodeB",
	}
	pkt := EncodeHeartbeat(hdr, cluster.StateMaster)
	if len(pkt) != PacketLen {
		t.Fatalf("expected %d bytes, got %d", PacketLen, len(pkt))
	}

	got, state, err := DecodeHeartbeat(pkt)
	if err != nil {
		t.Fatalf("DecodeHeartbeat: %v", err)
	}
	if got != hdr {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, hdr)
	}
	if state != cluster.StateMaster {
		t.Fatalf("expected state MASTER, got %v", state)
	}
}

func TestDecodeHeartbeatRejectsShortDatagram(t *testing.T) {
	_, _, err := DecodeHeartbeat(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error decoding a too-short datagram")
	}
}

func TestIsRequestBitRoundTrips(t *testing.T) {
	hdr := Header{Type: MsgClusterHeartbeat, IsRequest: false, Len: payloadLen, GroupID: "g", OrigHost: "a", DestHost: "b"}
	pkt := EncodeHeartbeat(hdr, cluster.StateSlave)
	got, _, _ := DecodeHeartbeat(pkt)
	if got.IsRequest {
		t.Fatal("expected IsRequest false to round-trip as false")
	}
}
