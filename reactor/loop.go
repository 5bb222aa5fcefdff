package reactor

import (
	"sync"
	"time"
)

const (
	eventBacklog   = 1024
	controlBacklog = 64
)

// Loop is a single-threaded readiness loop. Every method except Sender().Send
// must be called from the goroutine running Run, or before Run starts.
type Loop struct {
	regs    map[Token]*registration
	events  chan event
	control chan interface{}
	timers  *timers

	done      chan struct{}
	closeOnce sync.Once
	running   bool
	started   bool
}

func New() *Loop {
	return &Loop{
		regs:    make(map[Token]*registration),
		events:  make(chan event, eventBacklog),
		control: make(chan interface{}, controlBacklog),
		timers:  newTimers(),
		done:    make(chan struct{}),
	}
}

// Register starts watching src under token. The registration is one-shot:
// after its event is delivered it stays silent until Reregister.
func (l *Loop) Register(src Source, token Token, interest Ready) error {
	if l.closed() {
		return ErrClosed
	}
	if _, ok := l.regs[token]; ok {
		return ErrRegistered
	}

	reg := &registration{src: src}
	if err := l.arm(token, reg, interest); err != nil {
		return err
	}
	l.regs[token] = reg
	return nil
}

// Reregister re-arms token with a new interest, superseding any pending arm.
func (l *Loop) Reregister(src Source, token Token, interest Ready) error {
	if l.closed() {
		return ErrClosed
	}
	reg, ok := l.regs[token]
	if !ok {
		return ErrNotRegistered
	}

	reg.disarm()
	reg.src = src
	return l.arm(token, reg, interest)
}

func (l *Loop) Deregister(token Token) error {
	reg, ok := l.regs[token]
	if !ok {
		return ErrNotRegistered
	}
	reg.disarm()
	delete(l.regs, token)
	return nil
}

func (l *Loop) arm(token Token, reg *registration, interest Ready) error {
	// a new generation makes events of earlier arms stale
	reg.gen++
	if interest == 0 {
		return nil
	}

	rc, err := reg.src.SyscallConn()
	if err != nil {
		return err
	}

	w := &watcher{cancel: make(chan struct{}), done: make(chan struct{})}
	reg.watcher = w
	go w.run(rc, event{token: token, gen: reg.gen}, interest, l.events)
	return nil
}

func (l *Loop) ScheduleTimeout(token Token, after time.Duration) TimerID {
	return l.timers.schedule(token, time.Now().Add(after))
}

func (l *Loop) CancelTimeout(id TimerID) bool {
	return l.timers.cancel(id)
}

// Shutdown makes Run return once the current notification has been handled.
func (l *Loop) Shutdown() {
	l.running = false
}

func (l *Loop) Sender() *Sender {
	return &Sender{ch: l.control, done: l.done}
}

// Run dispatches notifications to h until Shutdown is called. Pending
// registrations are disarmed and pending timeouts dropped on return.
func (l *Loop) Run(h Handler) error {
	if l.closed() {
		return ErrClosed
	}
	if l.started {
		return ErrRunning
	}
	l.started = true
	l.running = true
	defer l.close()

	clock := time.NewTimer(time.Hour)
	stopTimer(clock)
	defer clock.Stop()

	for l.running {
		var wake <-chan time.Time
		if deadline, ok := l.timers.nextDeadline(); ok {
			resetTimer(clock, time.Until(deadline))
			wake = clock.C
		}

		select {
		case ev := <-l.events:
			l.dispatch(h, ev)
		case <-wake:
			l.expire(h)
		case msg := <-l.control:
			h.Notify(l, msg)
		}
	}

	return nil
}

func (l *Loop) dispatch(h Handler, ev event) {
	reg, ok := l.regs[ev.token]
	if !ok || reg.gen != ev.gen {
		return
	}
	reg.watcher = nil
	h.Ready(l, ev.token, ev.ready)
}

func (l *Loop) expire(h Handler) {
	now := time.Now()
	for l.running {
		tm, ok := l.timers.popExpired(now)
		if !ok {
			return
		}
		h.Timeout(l, tm.token)
	}
}

func (l *Loop) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Loop) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		for token, reg := range l.regs {
			reg.disarm()
			delete(l.regs, token)
		}
		l.timers = newTimers()
	})
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
