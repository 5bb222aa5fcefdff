package udp

import (
	"fmt"
	"net"
	"time"

	"github.com/VividCortex/ewma"
	"go.uber.org/multierr"

	"github.com/treemana/koala/log"
	"github.com/treemana/koala/metrics"
	"github.com/treemana/koala/model"
	"github.com/treemana/koala/reactor"
	"github.com/treemana/koala/slab"
	"github.com/treemana/koala/transport"
)

const (
	// TCPServerToken is reserved for a stream listener and never assigned.
	TCPServerToken reactor.Token = 0
	// ServerToken is the token of the listening UDP socket.
	ServerToken reactor.Token = 1

	// MaxTransactions is the hard limit of the transaction table.
	MaxTransactions = 65534

	maxDatagramSize = 512
	defaultTimeout  = 2 * time.Second
	rttDecay        = 10
)

// Control is a message accepted on the loop's control channel.
type Control int

const (
	// Stop shuts the loop down. In-flight transactions are dropped and queued
	// replies are not flushed.
	Stop Control = iota + 1
)

func (c Control) String() string {
	if c == Stop {
		return "stop"
	}
	return fmt.Sprintf("control(%d)", int(c))
}

type Options struct {
	Bind     string        // listen address, host:port
	Upstream string        // resolver address, host:port
	Timeout  time.Duration // per transaction, defaultTimeout when zero

	Capacity int // table size, MaxTransactions when zero or larger
	Hook     metrics.ProxyHook
	Dial     model.Dialer

	// ReportPanics sends a panic of the loop goroutine to Sentry before
	// re-raising it.
	ReportPanics bool
}

// Stats is a snapshot of the server counters.
type Stats struct {
	Accepted uint64
	Dropped  uint64
	TimedOut uint64
	Answered uint64
	Live     int // transactions in the table
	Queued   int // replies waiting for the socket

	// UpstreamRTT is the moving average of upstream round trips.
	UpstreamRTT time.Duration
}

// Server is the reactor handler of the proxy. It owns the listening socket,
// the transaction table and the response queue, and must only be used from the
// loop goroutine.
type Server struct {
	conn     transport.Transport
	upstream net.Addr
	timeout  time.Duration
	dial     model.Dialer
	hook     metrics.ProxyHook

	table *slab.Slab[*model.Transaction]
	queue *responses

	// armed is the interest of the server registration, zero while its event is
	// being handled
	armed reactor.Ready
	buf   []byte
	rtt   ewma.MovingAverage
	stats Stats
}

func NewServer(conn transport.Transport, upstream net.Addr, opts Options) *Server {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	capacity := opts.Capacity
	if capacity <= 0 || capacity > MaxTransactions {
		capacity = MaxTransactions
	}

	hook := opts.Hook
	if hook == nil {
		hook = metrics.NewNoopProxyHook()
	}

	dial := opts.Dial
	if dial == nil {
		dial = model.DialUDP
	}

	return &Server{
		conn:     conn,
		upstream: upstream,
		timeout:  timeout,
		dial:     dial,
		hook:     hook,
		table:    slab.New[*model.Transaction](int(ServerToken)+1, capacity),
		queue:    newResponses(),
		buf:      make([]byte, maxDatagramSize),
		rtt:      ewma.NewMovingAverage(rttDecay),
	}
}

// Register arms the listening socket for reading.
func (s *Server) Register(reg reactor.Registry) error {
	if err := reg.Register(s.conn, ServerToken, reactor.Readable); err != nil {
		return fmt.Errorf("register server socket: %w", err)
	}
	s.armed = reactor.Readable
	return nil
}

func (s *Server) Ready(loop reactor.EventLoop, token reactor.Token, ready reactor.Ready) {
	if token != ServerToken {
		s.handle(loop, Event{Kind: TransactionEvent, Token: token, Ready: ready})
		return
	}

	// the one-shot registration is spent, it is armed again on every exit
	s.armed = 0
	defer s.rearm(loop)

	if ready.IsReadable() {
		s.handle(loop, Event{Kind: ServerReadable, Token: token, Ready: ready})
	}
	if ready.IsWritable() {
		s.handle(loop, Event{Kind: ServerWritable, Token: token, Ready: ready})
	}
}

func (s *Server) Timeout(loop reactor.EventLoop, token reactor.Token) {
	s.handle(loop, Event{Kind: TimeoutEvent, Token: token})
}

func (s *Server) Notify(loop reactor.EventLoop, msg interface{}) {
	s.handle(loop, Event{Kind: ControlEvent, Msg: msg})
}

func (s *Server) handle(loop reactor.EventLoop, ev Event) {
	switch ev.Kind {
	case ServerReadable:
		s.accept(loop)
	case ServerWritable:
		s.drain()
	case TransactionEvent:
		s.advance(loop, ev.Token, ev.Ready)
	case TimeoutEvent:
		s.expire(loop, ev.Token)
	case ControlEvent:
		if ev.Msg == Stop {
			log.Sugar.Infof("server stopping, %d transactions in flight, %d replies queued", s.table.Len(), s.queue.Len())
			loop.Shutdown()
			return
		}
		log.Sugar.Warnf("server ignored control message %v", ev.Msg)
	default:
		panic(fmt.Sprintf("udp: unknown event %v", ev))
	}
}

// advance drives the transaction behind token. A token that is neither the
// server's nor in the table means a registration leaked.
func (s *Server) advance(loop reactor.EventLoop, token reactor.Token, ready reactor.Ready) {
	tx, ok := s.table.Get(int(token))
	if !ok {
		panic(fmt.Sprintf("udp: readiness for unknown token %d", token))
	}

	tx.Advance(loop, ready)
	if tx.Done() {
		s.settle(loop, tx)
	}
}

func (s *Server) expire(loop reactor.EventLoop, token reactor.Token) {
	tx, ok := s.table.Get(int(token))
	if !ok {
		log.Logger.Debug("timeout for a finished transaction", log.Token(int(token)))
		return
	}
	if time.Now().Before(tx.Deadline) {
		log.Logger.Debug("timeout before the deadline", log.Token(int(token)))
		return
	}
	if !tx.Timeout() {
		log.Logger.Debug("timeout after completion", log.Token(int(token)))
		return
	}

	log.Sugar.Infof("token=%d, %s timed out after %s", token, tx.Upstream, s.timeout)
	s.stats.TimedOut++
	s.hook.EmitTimeout(tx.Origin, tx.Upstream)
	s.settle(loop, tx)
}

// settle moves a completed transaction out of the table: onto the response
// queue when it has a reply, otherwise it is dropped.
func (s *Server) settle(loop reactor.EventLoop, tx *model.Transaction) {
	if _, err := s.table.Remove(int(tx.Token)); err != nil {
		panic(fmt.Sprintf("udp: settle token %d: %v", tx.Token, err))
	}
	loop.CancelTimeout(tx.Timer)
	if err := tx.Close(loop); err != nil {
		log.Sugar.Warnf("token=%d, upstream socket close error=[%+v]", tx.Token, err)
	}

	if !tx.HasReply() {
		log.Logger.Debug("transaction finished without reply", log.Token(int(tx.Token)))
		return
	}

	if tx.RTT > 0 {
		s.rtt.Add(float64(tx.RTT))
	}
	s.queue.Push(tx)
	s.wantWrite(loop)
}

// Close releases every in-flight transaction and the listening socket.
func (s *Server) Close(reg reactor.Registry) error {
	var err error
	s.table.Range(func(token int, tx *model.Transaction) bool {
		err = multierr.Append(err, tx.Close(reg))
		return true
	})
	if n := s.queue.Discard(); n > 0 {
		log.Sugar.Infof("server discarded %d queued replies", n)
	}
	return multierr.Append(err, s.conn.Close())
}

func (s *Server) Stats() Stats {
	st := s.stats
	st.Live = s.table.Len()
	st.Queued = s.queue.Len()
	st.UpstreamRTT = time.Duration(s.rtt.Value())
	return st
}

func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }
