// Package metrics emits the proxy's per-query events. The server invokes a
// ProxyHook at fixed points of a transaction's life; implementations decide
// where the numbers go. statsd is the only backend.
package metrics
