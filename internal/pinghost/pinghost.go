// Package pinghost implements the liveness probes the cluster engine's
// CHECK_PING/CHECK_VALID_PING_SERVER jobs issue against spec.md §6's
// ha_ping_hosts (ICMP) and ha_tcp_ping_hosts (TCP connect) targets.
package pinghost

import (
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"hamasterd/internal/cluster"
)

// Timeout bounds every individual probe so a single unreachable host never
// stalls the CHECK_PING job past its own retry cadence.
const Timeout = 2 * time.Second

// Prober implements clusterproto.Pinger: ICMP echo when Port == 0, a raw
// TCP connect attempt otherwise (spec.md §6 ha_tcp_ping_hosts).
type Prober struct{}

// Ping probes h and reports the result, mapped onto cluster.PingResult's
// four-way classification (success / useless-host / system-error /
// failure) mirroring the original HB_PING_* enum.
func (Prober) Ping(h cluster.PingHost) cluster.PingResult {
	if h.Last == cluster.PingUselessHost {
		return cluster.PingUselessHost
	}
	if h.Port != 0 {
		return tcpPing(h.Hostname, h.Port)
	}
	return icmpPing(h.Hostname)
}

func tcpPing(hostname string, port int) cluster.PingResult {
	addr := net.JoinHostPort(hostname, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, Timeout)
	if err != nil {
		return cluster.PingFailure
	}
	conn.Close()
	return cluster.PingSuccess
}

func icmpPing(hostname string) cluster.PingResult {
	dst, err := net.ResolveIPAddr("ip4", hostname)
	if err != nil {
		return cluster.PingSysErr
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		// Unprivileged raw-socket access is commonly unavailable; this is a
		// system/permission error, not evidence the host is down.
		return cluster.PingSysErr
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("hamasterd-ping"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return cluster.PingSysErr
	}

	if _, err := conn.WriteTo(wb, dst); err != nil {
		return cluster.PingFailure
	}

	if err := conn.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
		return cluster.PingSysErr
	}
	rb := make([]byte, 1500)
	n, _, err := conn.ReadFrom(rb)
	if err != nil {
		return cluster.PingFailure
	}

	reply, err := icmp.ParseMessage(1, rb[:n])
	if err != nil {
		return cluster.PingFailure
	}
	if reply.Type == ipv4.ICMPTypeEchoReply {
		return cluster.PingSuccess
	}
	return cluster.PingFailure
}
