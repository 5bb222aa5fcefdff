package udp

import (
	"errors"

	"github.com/caffix/queue"

	"github.com/treemana/koala/log"
	"github.com/treemana/koala/model"
	"github.com/treemana/koala/reactor"
	"github.com/treemana/koala/transport"
)

// responses is the FIFO of completed transactions waiting to be written.
// Entries hold no token, their table slot is already free.
type responses struct {
	q queue.Queue
	n int
}

func newResponses() *responses {
	return &responses{q: queue.NewQueue()}
}

func (r *responses) Push(tx *model.Transaction) {
	r.q.Append(tx)
	r.n++
}

// Pop takes the oldest reply. Signals posted by Push are consumed on every
// call, empty or not.
func (r *responses) Pop() (*model.Transaction, bool) {
	e, ok := r.q.Next()
	r.ack()
	if !ok {
		return nil, false
	}
	r.n--
	return e.(*model.Transaction), true
}

// ack consumes the signals Append posts, nothing else waits on them.
func (r *responses) ack() {
	for {
		select {
		case <-r.q.Signal():
		default:
			return
		}
	}
}

func (r *responses) Len() int { return r.n }

// Discard empties the queue and returns how many replies were dropped.
func (r *responses) Discard() int {
	var n int
	for {
		if _, ok := r.Pop(); !ok {
			return n
		}
		n++
	}
}

// drain writes at most one queued reply.
func (s *Server) drain() {
	tx, ok := s.queue.Pop()
	if !ok {
		log.Sugar.Debug("server writable with no reply queued")
		return
	}

	err := tx.WriteReply(s.conn)
	if errors.Is(err, transport.ErrWouldBlock) {
		log.Sugar.Debugf("reply to %s would block, requeued", tx.Origin)
		s.queue.Push(tx)
		return
	}
	if err != nil {
		log.Sugar.Errorf("reply to %s write error=[%+v]", tx.Origin, err)
		s.hook.EmitError()
		return
	}

	s.stats.Answered++
	s.hook.EmitResponse(int64(len(tx.Reply)), tx.RTT, tx.Origin)
	log.Sugar.Debugf("replied %d bytes to %s", len(tx.Reply), tx.Origin)
}

// rearm arms the server socket for reading, and for writing while replies are
// queued.
func (s *Server) rearm(reg reactor.Registry) {
	interest := reactor.Readable
	if s.queue.Len() > 0 {
		interest |= reactor.Writable
	}

	if err := reg.Reregister(s.conn, ServerToken, interest); err != nil {
		log.Sugar.Errorf("server socket rearm error=[%+v]", err)
		return
	}
	s.armed = interest
}

// wantWrite adds write interest after a reply was queued outside a server
// event.
func (s *Server) wantWrite(reg reactor.Registry) {
	if s.armed == 0 || s.armed.IsWritable() {
		return
	}
	s.rearm(reg)
}
