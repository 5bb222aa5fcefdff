package metrics

import (
	"net"
	"os"
	"time"
)

const statsdPrefix = "koala"

// ProxyHook reports events in the life of a proxied query. Implementations
// must not block the caller.
type ProxyHook interface {
	// EmitAccepted reports a query that was given a transaction.
	EmitAccepted(client net.Addr)

	// EmitDropped reports a query discarded because the transaction table was
	// full.
	EmitDropped(client net.Addr)

	// EmitTimeout reports a transaction answered with a synthesized failure
	// because the upstream did not reply in time.
	EmitTimeout(client net.Addr, upstream net.Addr)

	// EmitResponse reports a reply written back to its client. rtt is the
	// upstream round trip, zero for synthesized replies.
	EmitResponse(bytes int64, rtt time.Duration, client net.Addr)

	// EmitError reports a socket error on the proxy's own listener.
	EmitError()
}

// AsyncStatsdProxyHook is a ProxyHook that ships every event to statsd from
// its own goroutine.
type AsyncStatsdProxyHook struct {
	client *StatsdClient
}

// NoopProxyHook discards every event.
type NoopProxyHook struct{}

func NewAsyncStatsdProxyHook(addr string, sampleRate float32) (ProxyHook, error) {
	client, err := statsdClientFactory(addr, sampleRate)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdProxyHook{client}, nil
}

func (h *AsyncStatsdProxyHook) EmitAccepted(client net.Addr) {
	go h.client.Count("event.proxy.accepted", 1, map[string]string{
		"client": ipFromAddr(client),
	})
}

func (h *AsyncStatsdProxyHook) EmitDropped(client net.Addr) {
	go h.client.Count("event.proxy.dropped", 1, map[string]string{
		"client": ipFromAddr(client),
	})
}

func (h *AsyncStatsdProxyHook) EmitTimeout(client net.Addr, upstream net.Addr) {
	go h.client.Count("event.proxy.timeout", 1, map[string]string{
		"client":   ipFromAddr(client),
		"upstream": ipFromAddr(upstream),
	})
}

func (h *AsyncStatsdProxyHook) EmitResponse(bytes int64, rtt time.Duration, client net.Addr) {
	go func() {
		tags := map[string]string{
			"client": ipFromAddr(client),
		}

		h.client.Size("size.proxy.response", bytes, tags)

		if rtt > 0 {
			h.client.Timing("latency.proxy.upstream", rtt, tags)
		}
	}()
}

func (h *AsyncStatsdProxyHook) EmitError() {
	go h.client.Count("event.proxy.error", 1, nil)
}

func NewNoopProxyHook() ProxyHook {
	return &NoopProxyHook{}
}

func (h *NoopProxyHook) EmitAccepted(client net.Addr)                                 {}
func (h *NoopProxyHook) EmitDropped(client net.Addr)                                  {}
func (h *NoopProxyHook) EmitTimeout(client net.Addr, upstream net.Addr)               {}
func (h *NoopProxyHook) EmitResponse(bytes int64, rtt time.Duration, client net.Addr) {}
func (h *NoopProxyHook) EmitError()                                                   {}

// statsdClientFactory tags every metric with the local hostname.
func statsdClientFactory(addr string, sampleRate float32) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	return NewStatsdClient(addr, statsdPrefix, map[string]string{"host": hostname}, sampleRate)
}

func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.UDPAddr:
		return networkAddr.IP.String()
	case *net.TCPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}
