package clusterproto

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"hamasterd/internal/cluster"
)

// deadlineIn1ms implements the 1ms poll suspension point spec.md §5(b)
// describes for the UDP reader thread.
func deadlineIn1ms() time.Time {
	return time.Now().Add(time.Millisecond)
}

// UDPTransport is the production Transport: one bound UDP socket, used both
// to unicast heartbeat requests/replies and to receive them.
type UDPTransport struct {
	conn *net.UDPConn
	port int
}

// NewUDPTransport binds a UDP socket on the configured ha_port_id.
func NewUDPTransport(port int) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("clusterproto: listen udp :%d: %w", port, err)
	}
	return &UDPTransport{conn: conn, port: port}, nil
}

// SendTo resolves hostname and writes pkt to it on the configured port.
func (t *UDPTransport) SendTo(hostname string, pkt []byte) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", hostname, t.port))
	if err != nil {
		return fmt.Errorf("clusterproto: resolve %s: %w", hostname, err)
	}
	_, err = t.conn.WriteToUDP(pkt, addr)
	return err
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// ReplyTo unicasts a non-request heartbeat carrying self's current state to
// hostname — used for the unconditional reply rule in spec.md §4.3.2 step 5.
func (e *Engine) ReplyTo(hostname string) {
	hdr := Header{
		Type:      MsgClusterHeartbeat,
		IsRequest: false,
		Len:       payloadLen,
		Seq:       e.nextSeq(),
		GroupID:   e.st.GroupID(),
		OrigHost:  e.local,
		DestHost:  hostname,
	}
	pkt := EncodeHeartbeat(hdr, e.st.SelfState())
	if err := e.transport.SendTo(hostname, pkt); err != nil {
		log.Printf("clusterproto: reply to %s failed: %v", hostname, err)
	}
}

// ReprioritizeCalcScoreNow runs after a peer is observed leaving MASTER
// (spec.md §4.3.2: "a transition of the peer out of MASTER reprioritises the
// CALC_SCORE job to run immediately").
func (e *Engine) ReprioritizeCalcScoreNow() {
	e.queue.Reprioritize(JobCalcScore, 0)
}

// ReadLoop reads datagrams from t until ctx is cancelled, validating each
// one against st and dispatching the reply/reprioritize side effects.
func ReadLoop(ctx context.Context, t *UDPTransport, st *cluster.State, localHostname string, e *Engine, resolver HostResolver) {
	buf := make([]byte, PacketLen+64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.conn.SetReadDeadline(deadlineIn1ms())
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("clusterproto: udp read error: %v", err)
			continue
		}

		hdr, state, err := DecodeHeartbeat(buf[:n])
		if err != nil {
			continue
		}

		outcome, shouldReply, leftMaster := Validate(st, localHostname, hdr, state, addr.IP.String(), resolver)
		if shouldReply {
			e.ReplyTo(hdr.OrigHost)
		}
		if outcome == OutcomeAccepted && leftMaster {
			e.ReprioritizeCalcScoreNow()
		}
	}
}
