package nexthop

import "encoding/json"

// StrategyError is a tagged error carrying a stable numeric code, so
// that load-time and runtime failures can be distinguished and
// round-tripped across process boundaries (e.g. reported to an admin
// surface) without string matching.
type StrategyError struct {
	Code int               `json:"code"`
	Msg  string            `json:"msg"`
	Data map[string]string `json:"data,omitempty"`
}

func newError(code int, msg string) *StrategyError {
	return &StrategyError{Code: code, Msg: msg}
}

func (e *StrategyError) Error() string {
	b, err := json.Marshal(e)
	if err != nil {
		return e.Msg
	}
	return string(b)
}

// Is supports errors.Is by comparing codes, so callers can write
// errors.Is(err, nexthop.ErrNoParentAvailable) regardless of attached data.
func (e *StrategyError) Is(target error) bool {
	other, ok := target.(*StrategyError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// WithData attaches structured context to a copy of the error, e.g. the
// strategy name a ConfigRejected error applies to.
func (e *StrategyError) WithData(data map[string]string) *StrategyError {
	return &StrategyError{Code: e.Code, Msg: e.Msg, Data: data}
}

// Runtime error kinds.
var (
	// ErrNoParentAvailable is returned from FindNextHop when selection or
	// retry predicates deny a further pick. The caller decides whether to
	// bypass to origin (GoDirect) or fail, per the strategy's GoDirect flag.
	ErrNoParentAvailable = newError(2001, "no parent available")
)

// Load-time error kinds. These never abort the overall configuration
// reload; see LoadReport.
var (
	ErrConfigRejected      = newError(1001, "strategy configuration rejected")
	ErrInvalidScheme       = newError(1002, "invalid scheme")
	ErrInvalidResponseCode = newError(1003, "invalid response code")
	ErrGroupCapExceeded    = newError(1004, "group cap exceeded")
	ErrInvalidRingMode     = newError(1005, "invalid ring_mode, defaulting to alternate_ring")
	ErrInvalidHealthCheck  = newError(1006, "unknown health_check value")
)

// LoadReport collects non-fatal warnings produced while building a
// Strategy from a configuration document, plus an optional fatal
// rejection. Parse-time errors never abort the overall configuration
// reload: a rejection is reported here rather than returned as an error,
// and strategies loaded separately remain usable.
type LoadReport struct {
	StrategyName string
	Warnings     []*StrategyError
	Rejected     *StrategyError
}

// Warn appends a non-fatal warning to the report.
func (r *LoadReport) Warn(err *StrategyError) {
	r.Warnings = append(r.Warnings, err)
}

// OK reports whether the strategy was constructed (not rejected).
func (r *LoadReport) OK() bool {
	return r.Rejected == nil
}
