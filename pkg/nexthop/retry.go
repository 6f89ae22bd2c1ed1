package nexthop

// CodeIsFailure reports whether code is classified as a retry-worthy
// failure for this strategy's response-code set.
func CodeIsFailure(codes *ResponseCodeSet, code int) bool {
	return codes.Contains(code)
}

// ResponseIsRetryable reports whether another attempt is warranted: the
// code must be a failure, there must be retry budget left, and there must
// be fewer total attempts than total parents.
//
// attempts is the total number of picks already completed (the post-
// increment value of Scratchpad.Attempts, i.e. it already counts the
// attempt whose outcome is being judged). A strategy with
// max_simple_retries=2 must make 3 total picks (the initial attempt plus
// 2 retries) before failing, which requires the retry-budget comparison
// to be inclusive.
func ResponseIsRetryable(codes *ResponseCodeSet, attempts, maxSimpleRetries, numParents uint32, code int) bool {
	return CodeIsFailure(codes, code) && attempts <= maxSimpleRetries && attempts < numParents
}

// OnFailureMarkParentDown reports whether a failing response code should
// mark the parent down: any 5xx, or the connection-failure sentinel.
func OnFailureMarkParentDown(code int) bool {
	if code == StatusConnectionFailure {
		return true
	}
	return code >= 500 && code <= 599
}
