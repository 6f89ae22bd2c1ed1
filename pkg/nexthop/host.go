package nexthop

import "fmt"

// Scheme is the transport scheme a host protocol endpoint answers on.
type Scheme int

const (
	SchemeNone Scheme = iota
	SchemeHTTP
	SchemeHTTPS
)

func (s Scheme) String() string {
	switch s {
	case SchemeHTTP:
		return "http"
	case SchemeHTTPS:
		return "https"
	default:
		return "none"
	}
}

// Protocol is one {scheme, port} endpoint a host answers on, plus the
// optional URL used for active health probing of that endpoint.
type Protocol struct {
	Scheme         Scheme
	Port           int
	HealthCheckURL string
}

// HostRecord is an immutable-after-load descriptor of one upstream parent.
// Availability is never stored here, it is a logical attribute derived by
// asking the HealthView at selection time.
type HostRecord struct {
	Hostname   string
	Protocols  []Protocol
	Weight     float64
	HashString string // overrides Hostname as the hash-ring seed when set

	GroupIndex int
	HostIndex  int
}

// HashSeed returns the string used to place this host on the consistent
// hash ring: HashString when present, Hostname otherwise.
func (h *HostRecord) HashSeed() string {
	if h.HashString != "" {
		return h.HashString
	}
	return h.Hostname
}

// ProtocolFor returns the protocol endpoint matching the given scheme. The
// strategy's scheme is a filter, not a constraint: when no protocol
// matches, the first configured protocol is returned instead.
func (h *HostRecord) ProtocolFor(scheme Scheme) (Protocol, bool) {
	if len(h.Protocols) == 0 {
		return Protocol{}, false
	}
	if scheme != SchemeNone {
		for _, p := range h.Protocols {
			if p.Scheme == scheme {
				return p, true
			}
		}
	}
	return h.Protocols[0], true
}

func (h *HostRecord) String() string {
	return fmt.Sprintf("%s[%d:%d]", h.Hostname, h.GroupIndex, h.HostIndex)
}
