// Package resilience guards outbound extension traffic with a per-upstream
// circuit breaker.
//
// Every source id gets its own Breaker inside its network client. A source
// whose site keeps failing is cut off for Settings.Timeout, then probed with
// up to MaxRequests calls before it is trusted again:
//
//	closed --ReadyToTrip--> open --Timeout--> probing --MaxRequests ok--> closed
//	                                             |
//	                                             +--any failure--> open
//
// Results of calls admitted before a transition are discarded, so a slow
// request started in one window cannot trip the next.
//
//	resp, err := resilience.Do(breaker, func() (*resty.Response, error) {
//		return req.Execute(method, url)
//	})
package resilience
