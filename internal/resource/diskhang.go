package resource

import (
	"context"
	"log"
	"time"

	"hamasterd/internal/cluster"
)

// RunDiskHangDetector implements spec.md §4.4.3's dedicated thread: it wakes
// every 100ms, and every cfg.CheckDiskFailureInterval samples each
// REGISTERED_AND_ACTIVE server's EOF log-sequence number. A sample equal to
// the previous one flags server_hang; a hang on any active server while
// self is MASTER and not isolated demotes the node. The detector does not
// disable the event log; a hang is only reported via log.Printf. Grounded on the
// teacher's zfs.PoolHeartbeat (periodic probe, compare-to-last-known,
// alert-on-divergence), applied here to EOF LSNs instead of a write/read
// round trip.
func (e *Engine) RunDiskHangDetector(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastCheck := time.Now()
	interval := e.st.cfg.CheckDiskFailureInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastCheck) < interval {
				continue
			}
			lastCheck = now
			e.checkDiskHang()
		}
	}
}

func (e *Engine) checkDiskHang() {
	hangDetected := false
	for _, p := range e.st.All() {
		if p.Kind != KindServer || p.State != StateRegisteredAndActive || p.Conn == nil {
			continue
		}

		if p.LastEOF == p.PrevCheckEOF {
			if !p.Hung {
				log.Printf("resource: server_hang detected for %s (eof stagnant at %d)", p.Argv, p.LastEOF)
			}
			p.Hung = true
			hangDetected = true
		} else {
			p.Hung = false
		}
		p.PrevCheckEOF = p.LastEOF

		if err := p.Conn.SendGetEOF(); err != nil {
			log.Printf("resource: get-eof request to %s failed: %v", p.Argv, err)
		}
	}

	if hangDetected && e.cluster.SelfState() == cluster.StateMaster && !e.cluster.IsIsolated() {
		e.cluster.SetSelfState(cluster.StateSlave)
		e.queue.Enqueue(JobDemoteStartShutdown, e.runDemoteStartShutdown, nil, 0)
	}
}

// RecordEOF stores a freshly-received EOF sample for argv, delivered over
// the control socket by a SERVER_GET_EOF_RESPONSE.
func (e *Engine) RecordEOF(argv string, eof int64) {
	p, ok := e.st.Lookup(argv)
	if !ok {
		return
	}
	p.LastEOF = eof
}
