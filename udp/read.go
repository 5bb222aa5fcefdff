package udp

import (
	"errors"

	"github.com/treemana/koala/log"
	"github.com/treemana/koala/model"
	"github.com/treemana/koala/reactor"
	"github.com/treemana/koala/slab"
	"github.com/treemana/koala/transport"
)

// accept reads exactly one datagram and gives it a transaction. The caller
// re-arms the server socket.
func (s *Server) accept(loop reactor.EventLoop) {
	n, remote, err := s.conn.Recv(s.buf)
	if errors.Is(err, transport.ErrWouldBlock) {
		log.Sugar.Debug("server socket was not actually readable")
		return
	}
	if err != nil {
		log.Sugar.Errorf("server read error=[%+v]", err)
		s.hook.EmitError()
		return
	}

	tx := model.New(s.buf[:n], remote, s.upstream, s.timeout, s.dial)

	token, err := s.table.Insert(tx)
	if err != nil {
		if errors.Is(err, slab.ErrFull) {
			log.Sugar.Warnf("dropped %d byte query from %s, %d transactions in flight", n, remote, s.table.Len())
		} else {
			log.Sugar.Errorf("insert transaction error=[%+v]", err)
		}
		s.stats.Dropped++
		s.hook.EmitDropped(remote)
		return
	}

	tx.Token = reactor.Token(token)
	tx.Timer = loop.ScheduleTimeout(tx.Token, s.timeout)
	s.stats.Accepted++
	s.hook.EmitAccepted(remote)
	log.Sugar.Debugf("token=%d, %d byte query from %s", token, n, remote)

	// forward, or reject, right away instead of waiting for an event
	s.handle(loop, Event{Kind: TransactionEvent, Token: tx.Token, Ready: reactor.Readable})
}
