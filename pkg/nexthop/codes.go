package nexthop

import "sort"

// StatusConnectionFailure is the sentinel "response code" reported for a
// connect failure, distinct from any real HTTP status. Real HTTP status
// codes are positive; this is not.
const StatusConnectionFailure = -1

// ResponseCodeSet is a sorted, deduplicated collection of HTTP status
// codes treated as failure for retry purposes. StatusConnectionFailure
// is always a member. Membership lookup is a binary search over a small,
// load-time-fixed sorted slice; these sets are at most a few dozen entries.
type ResponseCodeSet struct {
	codes []int
}

// NewResponseCodeSet builds a response-code set from zero or more HTTP
// status codes, ignoring duplicates, and always includes
// StatusConnectionFailure.
func NewResponseCodeSet(codes ...int) *ResponseCodeSet {
	s := &ResponseCodeSet{}
	s.add(StatusConnectionFailure)
	for _, c := range codes {
		s.add(c)
	}
	return s
}

func (s *ResponseCodeSet) add(code int) {
	i := sort.SearchInts(s.codes, code)
	if i < len(s.codes) && s.codes[i] == code {
		return
	}
	s.codes = append(s.codes, code)
	sort.Ints(s.codes)
}

// Add inserts code into the set if it falls within ValidResponseCode's
// bound, and reports whether it did. Invalid codes are dropped by the
// caller with a warning, never added.
func (s *ResponseCodeSet) Add(code int) bool {
	if !ValidResponseCode(code) {
		return false
	}
	s.add(code)
	return true
}

// Contains reports whether code is a member of the set.
func (s *ResponseCodeSet) Contains(code int) bool {
	i := sort.SearchInts(s.codes, code)
	return i < len(s.codes) && s.codes[i] == code
}

// Codes returns the sorted members, including StatusConnectionFailure.
func (s *ResponseCodeSet) Codes() []int {
	out := make([]int, len(s.codes))
	copy(out, s.codes)
	return out
}

// ValidResponseCode reports whether code falls within the bound the
// original parent_select plugin enforces: 300 < code < 599, exclusive
// on both ends.
func ValidResponseCode(code int) bool {
	return code > 300 && code < 599
}
