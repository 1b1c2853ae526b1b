// Package healthcheck probes proxy backends in the background so operators
// see in the log when a backend goes away or comes back. Probes never affect
// routing: a request to an unreachable backend still gets a gateway error from
// the proxy itself.
package healthcheck
