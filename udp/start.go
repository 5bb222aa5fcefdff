package udp

import (
	"fmt"
	"net"
	"runtime"

	"github.com/getsentry/raven-go"
	"go.uber.org/multierr"

	"github.com/treemana/koala/log"
	"github.com/treemana/koala/reactor"
	"github.com/treemana/koala/transport"
)

// Handle waits for a started proxy.
type Handle struct {
	done   chan struct{}
	err    error
	addr   net.Addr
	server *Server
}

// Wait blocks until the loop has stopped and its sockets are closed.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Addr is the bound listen address.
func (h *Handle) Addr() net.Addr { return h.addr }

// Stats is only meaningful after Wait returned.
func (h *Handle) Stats() Stats {
	<-h.done
	return h.server.Stats()
}

// Start binds opts.Bind and runs the proxy loop on a dedicated OS thread. The
// returned sender accepts Stop; the handle joins the loop.
func Start(opts Options) (*reactor.Sender, *Handle, error) {
	laddr, err := net.ResolveUDPAddr("udp", opts.Bind)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve listen address %q: %w", opts.Bind, err)
	}

	upstream, err := net.ResolveUDPAddr("udp", opts.Upstream)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve upstream %q: %w", opts.Upstream, err)
	}

	conn, err := transport.ListenUDP(laddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", laddr, err)
	}

	loop := reactor.New()
	server := NewServer(conn, upstream, opts)
	if err = server.Register(loop); err != nil {
		return nil, nil, multierr.Append(err, conn.Close())
	}

	h := &Handle{done: make(chan struct{}), addr: conn.LocalAddr(), server: server}
	go func() {
		defer close(h.done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		h.err = run(loop, server, opts.ReportPanics)
		h.err = multierr.Append(h.err, server.Close(loop))
		log.Sugar.Infof("server stopped, %+v", server.Stats())
	}()

	log.Sugar.Infof("server listening on %s, forwarding to %s", h.addr, upstream)
	return loop.Sender(), h, nil
}

func run(loop *reactor.Loop, server *Server, reportPanics bool) error {
	if !reportPanics {
		return loop.Run(server)
	}

	var err error
	if p, _ := raven.CapturePanicAndWait(func() { err = loop.Run(server) }, nil); p != nil {
		panic(p)
	}
	return err
}
