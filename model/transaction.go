package model

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/koala/log"
	"github.com/treemana/koala/reactor"
	"github.com/treemana/koala/transport"
	"github.com/treemana/koala/util"
)

// MaxQuerySize bounds an inbound query, the DNS-over-UDP limit.
const MaxQuerySize = dns.MinMsgSize

type State uint8

const (
	Received State = iota // allocated, not forwarded yet
	Awaiting              // forwarded, waiting for the upstream or the deadline
	Completed             // reply fixed, or nothing to answer
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Awaiting:
		return "awaiting"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Dialer opens the socket a transaction uses to reach its upstream.
type Dialer func() (transport.Transport, error)

// DialUDP opens an unconnected UDP socket on an ephemeral port.
func DialUDP() (transport.Transport, error) {
	conn, err := transport.ListenUDP(nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Transaction is the bookkeeping record of one client query in flight. It is
// mutated only by whoever holds it.
type Transaction struct {
	Token    reactor.Token
	Origin   net.Addr
	Query    []byte
	Upstream net.Addr
	Deadline time.Time
	Reply    []byte

	// Timer is the pending timeout, owned by the holder of the transaction.
	Timer reactor.TimerID
	// RTT is the upstream round trip, zero when no upstream reply was used.
	RTT time.Duration

	state   State
	request *dns.Msg
	conn    transport.Transport
	dial    Dialer
	sentAt  time.Time
}

// New copies query and fixes the deadline at now + timeout.
func New(query []byte, origin, upstream net.Addr, timeout time.Duration, dial Dialer) *Transaction {
	if len(query) > MaxQuerySize {
		query = query[:MaxQuerySize]
	}
	q := make([]byte, len(query))
	copy(q, query)

	if dial == nil {
		dial = DialUDP
	}

	return &Transaction{
		Origin:   origin,
		Query:    q,
		Upstream: upstream,
		Deadline: time.Now().Add(timeout),
		dial:     dial,
	}
}

func (t *Transaction) State() State { return t.state }

// Done reports whether the transaction reached Completed, with or without a
// reply.
func (t *Transaction) Done() bool { return t.state == Completed }

func (t *Transaction) HasReply() bool { return t.state == Completed && t.Reply != nil }

// Advance moves the transaction forward on a readiness event for its token. A
// transaction still waiting after Advance has its upstream socket re-armed.
func (t *Transaction) Advance(reg reactor.Registry, ready reactor.Ready) {
	switch t.state {
	case Received:
		t.forward(reg)
	case Awaiting:
		if !ready.IsReadable() {
			t.rearm(reg)
			return
		}
		t.receive(reg)
	case Completed:
	}
}

// Timeout synthesizes a server failure. It returns false when the transaction
// had already completed, which is an expected race.
func (t *Transaction) Timeout() bool {
	if t.state == Completed {
		return false
	}
	t.fail()
	return true
}

// WriteReply sends the reply to the origin through w.
func (t *Transaction) WriteReply(w transport.Transport) error {
	if !t.HasReply() {
		return fmt.Errorf("token=%d has no reply in state %s", t.Token, t.state)
	}
	_, err := w.Send(t.Reply, t.Origin)
	return err
}

// Close deregisters and closes the upstream socket. It is safe to call more
// than once.
func (t *Transaction) Close(reg reactor.Registry) error {
	if t.conn == nil {
		return nil
	}
	if reg != nil {
		_ = reg.Deregister(t.Token)
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Transaction) forward(reg reactor.Registry) {
	if len(t.Query) < util.DNSHeaderSize {
		log.Sugar.Debugf("token=%d, %d byte datagram from %s is not a query", t.Token, len(t.Query), t.Origin)
		t.complete(nil)
		return
	}

	var request = new(dns.Msg)
	if err := request.Unpack(t.Query); err != nil {
		log.Sugar.Warnf("token=%d, unpack error=[%+v] from %s", t.Token, err, t.Origin)
		t.completeWith(util.DNSNewHeaderReply(t.Query, dns.RcodeFormatError))
		return
	}

	if request.Response {
		log.Sugar.Warnf("token=%d, id=%d, response received as query from %s", t.Token, request.Id, t.Origin)
		t.complete(nil)
		return
	}

	if len(request.Question) == 0 {
		log.Sugar.Warnf("token=%d, id=%d, query without question", t.Token, request.Id)
		t.completeWith(util.DNSNewHeaderReply(t.Query, dns.RcodeFormatError))
		return
	}

	t.request = request

	conn, err := t.dial()
	if err != nil {
		log.Sugar.Errorf("token=%d, upstream socket error=[%+v]", t.Token, err)
		t.fail()
		return
	}
	t.conn = conn

	if _, err = conn.Send(t.Query, t.Upstream); err != nil {
		log.Sugar.Errorf("token=%d, send to %s error=[%+v]", t.Token, t.Upstream, err)
		t.fail()
		return
	}
	t.sentAt = time.Now()

	if err = reg.Register(conn, t.Token, reactor.Readable); err != nil {
		log.Sugar.Errorf("token=%d, register upstream socket error=[%+v]", t.Token, err)
		t.fail()
		return
	}

	t.state = Awaiting
	log.Sugar.Debugf("token=%d, id=%d, query=[%s] forwarded to %s", t.Token, request.Id, request.Question[0].String(), t.Upstream)
}

func (t *Transaction) receive(reg reactor.Registry) {
	// the client may accept more than a default EDNS0 buffer
	buf := make([]byte, dns.MaxMsgSize)
	n, from, err := t.conn.Recv(buf)
	if errors.Is(err, transport.ErrWouldBlock) {
		log.Sugar.Debugf("token=%d, upstream socket was not actually ready", t.Token)
		t.rearm(reg)
		return
	}
	if err != nil {
		// typically an ICMP port unreachable surfacing on the socket
		log.Sugar.Warnf("token=%d, upstream read error=[%+v]", t.Token, err)
		t.fail()
		return
	}

	if !transport.SameAddr(from, t.Upstream) {
		log.Sugar.Warnf("token=%d, datagram from unexpected %s ignored", t.Token, from)
		t.rearm(reg)
		return
	}

	var response = new(dns.Msg)
	if err = response.Unpack(buf[:n]); err != nil {
		log.Sugar.Warnf("token=%d, upstream unpack error=[%+v]", t.Token, err)
		t.rearm(reg)
		return
	}

	if response.Id != t.request.Id {
		log.Sugar.Infof("token=%d, unmatched request %d and response %d", t.Token, t.request.Id, response.Id)
		t.rearm(reg)
		return
	}

	t.RTT = time.Since(t.sentAt)

	var changed bool
	if !util.DNSSubnetExist(t.request) && util.DNSSubnetExist(response) {
		util.DNSSubnetRemove(response)
		changed = true
	}
	if size := util.DNSUDPSize(t.request); n > size {
		response.Truncate(size)
		changed = true
	}

	if !changed {
		reply := make([]byte, n)
		copy(reply, buf[:n])
		t.complete(reply)
		return
	}

	reply, err := response.Pack()
	if err != nil {
		log.Sugar.Warnf("token=%d, response pack error=[%+v]", t.Token, err)
		t.fail()
		return
	}
	t.complete(reply)
}

func (t *Transaction) rearm(reg reactor.Registry) {
	if err := reg.Reregister(t.conn, t.Token, reactor.Readable); err != nil {
		log.Sugar.Errorf("token=%d, rearm upstream socket error=[%+v]", t.Token, err)
		t.fail()
	}
}

// fail completes with SERVFAIL, built from the decoded query when there is one.
func (t *Transaction) fail() {
	if t.request != nil {
		t.completeWith(util.DNSNewFailure(t.request))
		return
	}
	t.completeWith(util.DNSNewHeaderReply(t.Query, dns.RcodeServerFailure))
}

func (t *Transaction) completeWith(m *dns.Msg) {
	if m == nil {
		t.complete(nil)
		return
	}

	reply, err := m.Pack()
	if err != nil {
		log.Sugar.Warnf("token=%d, reply pack error=[%+v]", t.Token, err)
		t.complete(nil)
		return
	}
	t.complete(reply)
}

func (t *Transaction) complete(reply []byte) {
	t.Reply = reply
	t.state = Completed
}
