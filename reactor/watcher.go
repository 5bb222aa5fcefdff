package reactor

import (
	"syscall"
	"time"
)

// aLongTimeAgo is used as a read deadline to kick a parked watcher out of
// syscall.RawConn.Read.
var aLongTimeAgo = time.Unix(1, 0)

type event struct {
	token Token
	gen   uint64
	ready Ready
}

// watcher waits for one readiness edge of a source and posts a single event.
// It never consumes data from the source.
type watcher struct {
	cancel chan struct{}
	done   chan struct{}
}

func (w *watcher) run(rc syscall.RawConn, ev event, interest Ready, out chan<- event) {
	defer close(w.done)

	if interest.IsWritable() {
		// datagram sockets are writable unless the send buffer is full, and
		// a full buffer surfaces as a would-block on the write itself
		ev.ready = Writable
		if interest.IsReadable() && peekReadable(rc) {
			ev.ready |= Readable
		}
	} else {
		if !waitReadable(rc, w.cancel) {
			return
		}
		ev.ready = Readable
	}

	select {
	case out <- ev:
	case <-w.cancel:
	}
}

type registration struct {
	src     Source
	gen     uint64
	watcher *watcher
}

// disarm stops a pending watcher and waits for it to exit.
func (r *registration) disarm() {
	w := r.watcher
	if w == nil {
		return
	}
	r.watcher = nil
	close(w.cancel)

	select {
	case <-w.done:
		return
	default:
	}

	_ = r.src.SetReadDeadline(aLongTimeAgo)
	<-w.done
	_ = r.src.SetReadDeadline(time.Time{})
}
