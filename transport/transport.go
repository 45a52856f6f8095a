// Package transport executes the api backend's HTTP requests through an
// interceptor chain. Interceptors attach the session's access token and turn
// a 401 into a single collapse-refresh-and-retry cycle.
package transport

import "net/http"

// Doer executes a single HTTP request.
type Doer func(req *http.Request) (*http.Response, error)

// Interceptor wraps a Doer with additional behavior.
type Interceptor func(next Doer) Doer

// Chain applies interceptors to a base Doer in order. The first interceptor
// in the list is the outermost (executes first).
// Example: Chain(base, retry, attach) applies as: retry(attach(base)).
func Chain(base Doer, interceptors ...Interceptor) Doer {
	for i := len(interceptors) - 1; i >= 0; i-- {
		base = interceptors[i](base)
	}
	return base
}
