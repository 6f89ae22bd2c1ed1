package nexthop

import (
	"time"

	"github.com/google/uuid"
)

// MaxGroupRings is the cap on the number of host-group rings a strategy
// may hold.
const MaxGroupRings = 32

// RingMode governs how the strategy moves between host groups on retry.
type RingMode int

const (
	// AlternateRing round-robins across groups: attempt N targets group
	// N mod groups.
	AlternateRing RingMode = iota
	// ExhaustRing fully exhausts available hosts within the current
	// group before advancing to the next.
	ExhaustRing
)

// HealthCheckConfig records which health-check mechanisms a strategy
// relies on. The core does not schedule probes itself — it only reports
// this configuration verbatim to whatever collaborator runs them.
type HealthCheckConfig struct {
	Active  bool
	Passive bool
}

// Decision is the outcome of ShouldRetry.
type Decision int

const (
	// Retry means the caller should call FindNextHop again.
	Retry Decision = iota
	// GoDirect means parents are exhausted and the strategy allows
	// bypassing to origin.
	GoDirect
	// Fail means parents are exhausted and there is no direct fallback;
	// the caller surfaces whatever it normally does for "no upstream".
	Fail
)

// Outcome is the result of one attempt against a parent, fed back to Mark
// and ShouldRetry.
type Outcome struct {
	// StatusCode is the HTTP response status, or StatusConnectionFailure
	// when the attempt never got a response.
	StatusCode int
}

// ConnectFailureOutcome is a convenience constructor for a failed-connect
// attempt.
func ConnectFailureOutcome() Outcome {
	return Outcome{StatusCode: StatusConnectionFailure}
}

// ParentResult is the host the strategy picked for the current attempt.
type ParentResult struct {
	Hostname string
	Port     int
	Scheme   Scheme
	IsRetry  bool
	Attempt  uint32
}

// Strategy is the root object per named policy: it holds the load-time
// configuration and host-group rings, and exposes the four operations
// the proxy drives a transaction's retry state machine with. All fields
// are immutable after construction; concurrent reads from any number of
// goroutines are safe without locking. The only mutable collaborator it
// touches is Health, which owns its own synchronization.
type Strategy struct {
	Name             string
	Scheme           Scheme
	GoDirect         bool
	ParentIsProxy    bool
	IgnoreSelfDetect bool
	RingMode         RingMode
	MaxSimpleRetries uint32
	RespCodes        *ResponseCodeSet
	HealthChecks     HealthCheckConfig
	NumParents       uint32
	Affinity         *AffinityHook

	// Generation identifies this build of the strategy tree, so a hot
	// reload (a single pointer swap suffices given immutability) can be
	// traced through logs and metrics across the swap.
	Generation uuid.UUID
	LoadedAt   time.Time

	groups []*HostGroupRing
	rings  []*ConsistentHashSelector

	Health HealthView
}

// StrategyConfig is the validated, in-memory shape the core is handed by
// the configuration collaborator. Building a Strategy from raw YAML is
// pkg/nexthop/config's job; NewStrategy only enforces the invariants the
// core itself depends on.
type StrategyConfig struct {
	Name             string
	Scheme           Scheme
	GoDirect         bool
	ParentIsProxy    bool
	IgnoreSelfDetect bool
	RingMode         RingMode
	MaxSimpleRetries uint32
	RespCodes        *ResponseCodeSet
	HealthChecks     HealthCheckConfig
	Groups           [][]*HostRecord
	VNodesPerWeight  int
	Affinity         *AffinityHook
}

// NewStrategy builds a Strategy from a validated configuration and a
// HealthView collaborator. It panics only on the invariants a conforming
// config loader must already have enforced (non-empty groups, cap
// respected); a config loader is expected to check those invariants itself
// and turn violations into LoadReport entries before ever reaching here.
func NewStrategy(cfg StrategyConfig, health HealthView) *Strategy {
	if len(cfg.Groups) == 0 || len(cfg.Groups) > MaxGroupRings {
		panic("nexthop: NewStrategy requires 1..MaxGroupRings groups")
	}
	if cfg.RespCodes == nil {
		cfg.RespCodes = NewResponseCodeSet()
	}

	s := &Strategy{
		Name:             cfg.Name,
		Scheme:           cfg.Scheme,
		GoDirect:         cfg.GoDirect,
		ParentIsProxy:    cfg.ParentIsProxy,
		IgnoreSelfDetect: cfg.IgnoreSelfDetect,
		RingMode:         cfg.RingMode,
		MaxSimpleRetries: cfg.MaxSimpleRetries,
		RespCodes:        cfg.RespCodes,
		HealthChecks:     cfg.HealthChecks,
		Affinity:         cfg.Affinity,
		Generation:       uuid.New(),
		LoadedAt:         time.Now(),
		Health:           health,
	}

	for gi, hosts := range cfg.Groups {
		if len(hosts) == 0 {
			panic("nexthop: NewStrategy requires every group to be non-empty")
		}
		for hi, h := range hosts {
			h.GroupIndex = gi
			h.HostIndex = hi
		}
		ring := NewHostGroupRing(hosts)
		s.groups = append(s.groups, ring)
		s.rings = append(s.rings, NewConsistentHashSelector(ring, cfg.VNodesPerWeight))
		s.NumParents += uint32(len(hosts))
	}

	return s
}

// NewScratchpad allocates a fresh per-transaction Scratchpad sized for
// this strategy's groups.
func (s *Strategy) NewScratchpad() *Scratchpad {
	return newScratchpad(len(s.groups))
}

// NextHopExists reports whether any host across all groups is currently
// available per the HealthView.
func (s *Strategy) NextHopExists() bool {
	for _, g := range s.groups {
		for _, h := range g.Iter() {
			if s.Health.IsAvailable(h.Hostname) {
				return true
			}
		}
	}
	return false
}

// FindNextHop picks a parent for the current attempt, or returns
// ErrNoParentAvailable when the retry budget, parent count, or ring
// topology is exhausted.
func (s *Strategy) FindNextHop(ctx RequestContext, scratch *Scratchpad) (ParentResult, error) {
	// attempts counts picks already completed. A strategy with
	// max_simple_retries=2 must allow 3 total picks (initial + 2
	// retries) before giving up, see ResponseIsRetryable's doc comment,
	// hence the strict ">" here rather than ">=".
	if scratch.attempts > s.MaxSimpleRetries || scratch.attempts >= s.NumParents {
		return ParentResult{}, ErrNoParentAvailable
	}

	fp := fingerprintOf(ctx, scratch, s.Affinity)
	groups := len(s.groups)

	var group, host int
	var found bool

	switch s.RingMode {
	case ExhaustRing:
		group, host, found = s.pickExhaustRing(fp, scratch)
	default:
		group, host, found = s.pickAlternateRing(fp, scratch, groups)
	}

	if !found {
		return ParentResult{}, ErrNoParentAvailable
	}

	scratch.attempts++
	scratch.lastGroup, scratch.lastHost = group, host

	rec := s.groups[group].At(host)
	proto, _ := rec.ProtocolFor(s.Scheme)
	return ParentResult{
		Hostname: rec.Hostname,
		Port:     proto.Port,
		Scheme:   proto.Scheme,
		IsRetry:  scratch.attempts > 1,
		Attempt:  scratch.attempts - 1,
	}, nil
}

// pickExhaustRing implements the exhaust_ring policy: stay in the
// current group while any host in it is unvisited and available,
// advancing to the next group only once the current one is exhausted.
func (s *Strategy) pickExhaustRing(fp uint64, scratch *Scratchpad) (group, host int, ok bool) {
	for g := 0; g < len(s.groups); g++ {
		if host, ok = s.selectWithinGroup(g, fp, scratch); ok {
			return g, host, true
		}
	}
	return 0, 0, false
}

// pickAlternateRing implements the alternate_ring policy: round-robin
// across groups, attempt N targeting group N mod groups (the starting
// group is always group 0 on attempt 0; alternate_ring's rotation is
// purely a function of the attempt count). If the group an attempt
// would target is fully exhausted, the remaining groups are tried in
// rotation order before giving up.
func (s *Strategy) pickAlternateRing(fp uint64, scratch *Scratchpad, groups int) (group, host int, ok bool) {
	start := int(scratch.attempts) % groups
	for i := 0; i < groups; i++ {
		g := (start + i) % groups
		if host, ok = s.selectWithinGroup(g, fp, scratch); ok {
			return g, host, true
		}
	}
	return 0, 0, false
}

// selectWithinGroup implements within-group selection: the first visit
// to a group uses the ring's First(); later visits use Next() against
// the group's visited set. Every candidate considered, whether returned
// or skipped for unavailability, is marked visited before
// selectWithinGroup moves on.
func (s *Strategy) selectWithinGroup(g int, fp uint64, scratch *Scratchpad) (host int, ok bool) {
	visited := scratch.visitedIn(g)
	ring := s.rings[g]

	for {
		var candidate int
		var found bool
		if len(visited) == 0 {
			candidate, found = ring.First(fp)
		} else {
			candidate, found = ring.Next(fp, visited)
		}
		if !found {
			return 0, false
		}
		visited[candidate] = true

		hostname := s.groups[g].At(candidate).Hostname
		if s.Health.IsAvailable(hostname) {
			return candidate, true
		}
		// Unavailable: loop again, Next() will now skip it too.
	}
}

// Mark records the outcome of one attempt, updating the HealthView. It
// never blocks: HealthView implementations are required to make
// MarkDown/MarkUp best-effort.
func (s *Strategy) Mark(hostname string, outcome Outcome) {
	if !CodeIsFailure(s.RespCodes, outcome.StatusCode) {
		s.Health.MarkUp(hostname)
		return
	}
	if outcome.StatusCode == StatusConnectionFailure {
		s.Health.MarkDown(hostname, ReasonConnectFail)
		return
	}
	if OnFailureMarkParentDown(outcome.StatusCode) {
		s.Health.MarkDown(hostname, ReasonPassive5xx)
	}
}

// ShouldRetry decides whether another attempt is warranted, whether the
// caller should bypass to origin, or whether the transaction should
// fail.
func (s *Strategy) ShouldRetry(scratch *Scratchpad, outcome Outcome) Decision {
	if ResponseIsRetryable(s.RespCodes, scratch.attempts, s.MaxSimpleRetries, s.NumParents, outcome.StatusCode) {
		return Retry
	}
	if s.GoDirect {
		return GoDirect
	}
	return Fail
}
