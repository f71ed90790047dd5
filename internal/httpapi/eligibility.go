package httpapi

import (
	"net"
	"net/http"

	"hamasterd/internal/clusterproto"
)

// Eligibility classifies an incoming admin request's source, mirroring
// spec.md §6's three-way request-eligibility check. It reuses the same
// hostname-resolution helper the cluster protocol's datagram validation
// step 3 already performs (spec.md §4.3.2).
type Eligibility int

const (
	// EligibilityUnauthorised is a request from neither localhost nor a
	// configured roster peer.
	EligibilityUnauthorised Eligibility = iota
	// EligibilityLocalUnix is a request arriving over loopback.
	EligibilityLocalUnix
	// EligibilityClusterPeer is a request whose source IP resolves to a
	// configured roster node's hostname.
	EligibilityClusterPeer
)

func (e Eligibility) String() string {
	switch e {
	case EligibilityLocalUnix:
		return "local-unix"
	case EligibilityClusterPeer:
		return "cluster-peer"
	default:
		return "unauthorised"
	}
}

// Classify determines the eligibility of a request's remote address against
// the cluster roster.
func Classify(r *http.Request, nodes []string, resolver clusterproto.HostResolver) Eligibility {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.IsLoopback() {
		return EligibilityLocalUnix
	}
	if resolver == nil {
		resolver = clusterproto.DefaultResolver
	}
	for _, n := range nodes {
		addrs, err := resolver.LookupHost(n)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a == host {
				return EligibilityClusterPeer
			}
		}
	}
	return EligibilityUnauthorised
}

// eligibilityMiddleware rejects mutating admin requests from sources that
// are neither loopback nor a resolved roster peer.
func (h *Handler) eligibilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodes := make([]string, 0)
		for _, n := range h.core.ClusterState.All() {
			nodes = append(nodes, n.Hostname)
		}
		if Classify(r, nodes, nil) == EligibilityUnauthorised {
			respondError(w, http.StatusForbidden, "request source is not local or a configured cluster peer", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
