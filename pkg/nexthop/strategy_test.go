package nexthop_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1siuol/trafficserver/pkg/nexthop"
)

type fakeHealth struct {
	mu   sync.Mutex
	down map[string]nexthop.Reason
	ups  []string
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{down: make(map[string]nexthop.Reason)}
}

func (h *fakeHealth) IsAvailable(hostname string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, down := h.down[hostname]
	return !down
}

func (h *fakeHealth) MarkDown(hostname string, reason nexthop.Reason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.down[hostname] = reason
}

func (h *fakeHealth) MarkUp(hostname string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.down, hostname)
	h.ups = append(h.ups, hostname)
}

func (h *fakeHealth) downHosts() map[string]nexthop.Reason {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]nexthop.Reason, len(h.down))
	for k, v := range h.down {
		out[k] = v
	}
	return out
}

type fakeRequest struct {
	key []byte
	id  uint64
}

func (r fakeRequest) FingerprintKey() []byte { return r.key }
func (r fakeRequest) TransactionID() uint64  { return r.id }

func hostsFor(names ...string) []*nexthop.HostRecord {
	var out []*nexthop.HostRecord
	for _, n := range names {
		out = append(out, &nexthop.HostRecord{
			Hostname:  n,
			Protocols: []nexthop.Protocol{{Scheme: nexthop.SchemeHTTP, Port: 80}},
			Weight:    1.0,
		})
	}
	return out
}

func buildStrategy(t *testing.T, groups [][]string, ringMode nexthop.RingMode, maxRetries uint32, codes []int, health nexthop.HealthView) *nexthop.Strategy {
	t.Helper()
	var hostGroups [][]*nexthop.HostRecord
	for _, g := range groups {
		hostGroups = append(hostGroups, hostsFor(g...))
	}
	cfg := nexthop.StrategyConfig{
		Name:             "test",
		Scheme:           nexthop.SchemeHTTP,
		RingMode:         ringMode,
		MaxSimpleRetries: maxRetries,
		RespCodes:        nexthop.NewResponseCodeSet(codes...),
		Groups:           hostGroups,
		VNodesPerWeight:  64,
	}
	return nexthop.NewStrategy(cfg, health)
}

// S1 — single group, exhaust, all healthy: every host is visited at most
// once, the sequence of picks is exactly as long as the group, and the
// final attempt (forced to succeed) leaves the earlier hosts marked down.
func TestStrategy_S1_SingleGroupExhaustAllHealthy(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B", "C"}}, nexthop.ExhaustRing, 5, []int{503}, health)

	req := fakeRequest{key: []byte("req-1")}
	scratch := s.NewScratchpad()

	var picks []string
	for i := 0; i < 3; i++ {
		result, err := s.FindNextHop(req, scratch)
		require.NoError(t, err)
		picks = append(picks, result.Hostname)

		outcome := nexthop.Outcome{StatusCode: 503}
		if i == 2 {
			outcome = nexthop.Outcome{StatusCode: 200}
		}
		s.Mark(result.Hostname, outcome)

		decision := s.ShouldRetry(scratch, outcome)
		if i < 2 {
			assert.Equal(t, nexthop.Retry, decision)
		} else {
			assert.NotEqual(t, nexthop.Retry, decision)
		}
	}

	assert.ElementsMatch(t, []string{"A", "B", "C"}, picks)
	assert.Len(t, picks, len(unique(picks)), "no revisits")

	down := health.downHosts()
	assert.Len(t, down, 2)
	for _, h := range picks[:2] {
		reason, ok := down[h]
		assert.True(t, ok)
		assert.Equal(t, nexthop.ReasonPassive5xx, reason)
	}
	_, lastDown := down[picks[2]]
	assert.False(t, lastDown, "the succeeding host must not be marked down")
}

// S2 — alternate rings: attempt 0 always targets group 0; a connect
// failure on it, followed by a 200 on the next group, ends in success
// after exactly two picks with group indices 0 then 1.
func TestStrategy_S2_AlternateRings(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A1"}, {"B1"}, {"C1"}}, nexthop.AlternateRing, 5, nil, health)

	req := fakeRequest{key: []byte("req-2")}
	scratch := s.NewScratchpad()

	result, err := s.FindNextHop(req, scratch)
	require.NoError(t, err)
	assert.Equal(t, "A1", result.Hostname)
	s.Mark(result.Hostname, nexthop.ConnectFailureOutcome())
	assert.Equal(t, nexthop.Retry, s.ShouldRetry(scratch, nexthop.ConnectFailureOutcome()))

	result, err = s.FindNextHop(req, scratch)
	require.NoError(t, err)
	assert.Equal(t, "B1", result.Hostname)
	outcome := nexthop.Outcome{StatusCode: 200}
	s.Mark(result.Hostname, outcome)
	assert.NotEqual(t, nexthop.Retry, s.ShouldRetry(scratch, outcome))

	down := health.downHosts()
	reason, ok := down["A1"]
	require.True(t, ok)
	assert.Equal(t, nexthop.ReasonConnectFail, reason)
	assert.NotContains(t, down, "B1")
}

// S3 — retry budget exhausted: with max_simple_retries=2 and four hosts
// all returning 503, exactly three picks happen before NoParentAvailable,
// and mark_down is called on exactly those three.
func TestStrategy_S3_RetryBudgetExhausted(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B", "C", "D"}}, nexthop.ExhaustRing, 2, []int{503}, health)

	req := fakeRequest{key: []byte("req-3")}
	scratch := s.NewScratchpad()

	var picks []string
	for {
		result, err := s.FindNextHop(req, scratch)
		if err != nil {
			assert.ErrorIs(t, err, nexthop.ErrNoParentAvailable)
			break
		}
		picks = append(picks, result.Hostname)
		outcome := nexthop.Outcome{StatusCode: 503}
		s.Mark(result.Hostname, outcome)
		if s.ShouldRetry(scratch, outcome) != nexthop.Retry {
			break
		}
	}

	assert.Len(t, picks, 3)
	down := health.downHosts()
	assert.Len(t, down, 3)
	for _, h := range picks {
		assert.Contains(t, down, h)
	}
}

// S4 — all down at pick time: the very first FindNextHop fails.
func TestStrategy_S4_AllDownAtPickTime(t *testing.T) {
	health := newFakeHealth()
	for _, h := range []string{"A", "B", "C"} {
		health.MarkDown(h, nexthop.ReasonManual)
	}
	s := buildStrategy(t, [][]string{{"A", "B", "C"}}, nexthop.ExhaustRing, 5, nil, health)

	req := fakeRequest{key: []byte("req-4")}
	scratch := s.NewScratchpad()

	assert.False(t, s.NextHopExists())
	_, err := s.FindNextHop(req, scratch)
	assert.ErrorIs(t, err, nexthop.ErrNoParentAvailable)
}

// S5 — non-retryable failure: a status outside resp_codes ends the
// transaction after a single pick with no mark-down.
func TestStrategy_S5_NonRetryableFailure(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B"}}, nexthop.ExhaustRing, 5, []int{503}, health)

	req := fakeRequest{key: []byte("req-5")}
	scratch := s.NewScratchpad()

	result, err := s.FindNextHop(req, scratch)
	require.NoError(t, err)

	outcome := nexthop.Outcome{StatusCode: 400}
	s.Mark(result.Hostname, outcome)
	assert.NotEqual(t, nexthop.Retry, s.ShouldRetry(scratch, outcome))
	assert.Empty(t, health.downHosts())
}

// S6 — self-detect: a host pre-marked SELF_DETECT at load is never
// returned by FindNextHop.
func TestStrategy_S6_SelfDetect(t *testing.T) {
	health := newFakeHealth()
	health.MarkDown("A", nexthop.ReasonSelfDetect)
	s := buildStrategy(t, [][]string{{"A", "B", "C"}}, nexthop.ExhaustRing, 5, []int{503}, health)

	req := fakeRequest{key: []byte("req-6")}
	scratch := s.NewScratchpad()

	var picks []string
	for i := 0; i < 2; i++ {
		result, err := s.FindNextHop(req, scratch)
		require.NoError(t, err)
		picks = append(picks, result.Hostname)
		s.Mark(result.Hostname, nexthop.Outcome{StatusCode: 200})
	}
	assert.NotContains(t, picks, "A")
}

// Invariant: determinism — the same fingerprint and health snapshot
// produce the same pick sequence every time.
func TestStrategy_Invariant_Determinism(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B", "C", "D", "E"}}, nexthop.ExhaustRing, 10, []int{503}, health)
	req := fakeRequest{key: []byte("deterministic")}

	pickSequence := func() []string {
		// Restore the all-healthy snapshot: a previous run's 503s marked
		// its picks down.
		for h := range health.downHosts() {
			health.MarkUp(h)
		}
		scratch := s.NewScratchpad()
		var picks []string
		for {
			result, err := s.FindNextHop(req, scratch)
			if err != nil {
				break
			}
			picks = append(picks, result.Hostname)
			s.Mark(result.Hostname, nexthop.Outcome{StatusCode: 503})
		}
		return picks
	}

	first := pickSequence()
	second := pickSequence()
	assert.Equal(t, first, second)
}

// Invariant: no revisits within one transaction.
func TestStrategy_Invariant_NoRevisits(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B", "C"}, {"D", "E"}}, nexthop.AlternateRing, 20, []int{503}, health)
	req := fakeRequest{key: []byte("no-revisits")}
	scratch := s.NewScratchpad()

	var picks []string
	for {
		result, err := s.FindNextHop(req, scratch)
		if err != nil {
			break
		}
		picks = append(picks, result.Hostname)
		s.Mark(result.Hostname, nexthop.Outcome{StatusCode: 503})
	}
	assert.Len(t, picks, len(unique(picks)))
}

// Invariant: bounded attempts — never more than
// min(max_simple_retries+1, num_parents) picks.
func TestStrategy_Invariant_BoundedAttempts(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B", "C", "D", "E"}}, nexthop.ExhaustRing, 2, []int{503}, health)
	req := fakeRequest{key: []byte("bounded")}
	scratch := s.NewScratchpad()

	var count int
	for {
		_, err := s.FindNextHop(req, scratch)
		if err != nil {
			break
		}
		count++
		s.Mark("", nexthop.Outcome{StatusCode: 503})
	}
	assert.LessOrEqual(t, count, 3) // min(2+1, 5)
}

// Invariant: availability respect — a host marked down before selection
// begins is never picked.
func TestStrategy_Invariant_AvailabilityRespect(t *testing.T) {
	health := newFakeHealth()
	health.MarkDown("B", nexthop.ReasonManual)
	s := buildStrategy(t, [][]string{{"A", "B", "C"}}, nexthop.ExhaustRing, 5, []int{503}, health)
	req := fakeRequest{key: []byte("availability")}
	scratch := s.NewScratchpad()

	var picks []string
	for {
		result, err := s.FindNextHop(req, scratch)
		if err != nil {
			break
		}
		picks = append(picks, result.Hostname)
		s.Mark(result.Hostname, nexthop.Outcome{StatusCode: 503})
	}
	assert.NotContains(t, picks, "B")
}

// Invariant: ring-mode discipline — under exhaust_ring, group index is
// non-decreasing across picks.
func TestStrategy_Invariant_ExhaustRingGroupOrder(t *testing.T) {
	health := newFakeHealth()
	s := buildStrategy(t, [][]string{{"A", "B"}, {"C", "D"}}, nexthop.ExhaustRing, 10, []int{503}, health)
	req := fakeRequest{key: []byte("group-order")}
	scratch := s.NewScratchpad()

	var groups []int
	for {
		_, err := s.FindNextHop(req, scratch)
		if err != nil {
			break
		}
		g, _ := scratch.LastPick()
		groups = append(groups, g)
		s.Mark("", nexthop.Outcome{StatusCode: 503})
	}
	for i := 1; i < len(groups); i++ {
		assert.GreaterOrEqual(t, groups[i], groups[i-1])
	}
}

func unique(ss []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
