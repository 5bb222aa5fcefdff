package reactor

// Sender delivers control messages to a running Loop. It is safe for
// concurrent use by any number of goroutines.
type Sender struct {
	ch   chan<- interface{}
	done <-chan struct{}
}

// Send queues msg for the loop. It blocks while the control backlog is full
// and fails with ErrClosed once the loop has stopped.
func (s *Sender) Send(msg interface{}) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	}
}
