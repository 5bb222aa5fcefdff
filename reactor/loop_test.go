//go:build unix

package reactor

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	ready    chan Ready
	timeouts chan Token
	control  func(l EventLoop, msg interface{})
}

func newRecorder() *recorder {
	return &recorder{
		ready:    make(chan Ready, 16),
		timeouts: make(chan Token, 16),
	}
}

func (r *recorder) Ready(_ EventLoop, _ Token, ready Ready) { r.ready <- ready }
func (r *recorder) Timeout(_ EventLoop, token Token)        { r.timeouts <- token }

func (r *recorder) Notify(l EventLoop, msg interface{}) {
	if msg == "stop" {
		l.Shutdown()
		return
	}
	if r.control != nil {
		r.control(l, msg)
	}
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func run(t *testing.T, l *Loop, h Handler) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(h) }()
	return errc
}

func stop(t *testing.T, l *Loop, errc <-chan error) {
	t.Helper()
	if err := l.Sender().Send("stop"); err != nil {
		t.Fatalf("Send(stop) error = %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func expectReady(t *testing.T, r *recorder, want Ready) {
	t.Helper()
	select {
	case got := <-r.ready:
		if got != want {
			t.Fatalf("ready = %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event", want)
	}
}

func expectSilence(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case got := <-r.ready:
		t.Fatalf("unexpected %s event", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLoopReadableIsOneShot(t *testing.T) {
	server := listen(t)
	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	l := New()
	if err = l.Register(server, 7, Readable); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r := newRecorder()
	r.control = func(l EventLoop, msg interface{}) {
		if msg == "rearm" {
			if err := l.Reregister(server, 7, Readable); err != nil {
				t.Errorf("Reregister() error = %v", err)
			}
		}
	}
	errc := run(t, l, r)

	// nothing queued yet, so a readable-only arm stays parked
	expectSilence(t, r)

	_, _ = client.Write([]byte("a"))
	expectReady(t, r, Readable)

	_, _ = client.Write([]byte("b"))
	expectSilence(t, r)

	// data is still unread, re-arming must fire again
	if err = l.Sender().Send("rearm"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	expectReady(t, r, Readable)

	stop(t, l, errc)
}

func TestLoopWritableFiresImmediately(t *testing.T) {
	server := listen(t)

	l := New()
	if err := l.Register(server, 3, Readable|Writable); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r := newRecorder()
	errc := run(t, l, r)
	expectReady(t, r, Writable)
	expectSilence(t, r)
	stop(t, l, errc)
}

func TestLoopWritableReportsPendingRead(t *testing.T) {
	server := listen(t)
	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	_, _ = client.Write([]byte("x"))
	time.Sleep(50 * time.Millisecond)

	l := New()
	if err = l.Register(server, 3, Readable|Writable); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r := newRecorder()
	errc := run(t, l, r)
	expectReady(t, r, Readable|Writable)
	stop(t, l, errc)
}

func TestLoopDeregisterSilencesToken(t *testing.T) {
	server := listen(t)
	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	l := New()
	if err = l.Register(server, 9, Readable); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err = l.Deregister(9); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}

	r := newRecorder()
	errc := run(t, l, r)
	_, _ = client.Write([]byte("a"))
	expectSilence(t, r)
	stop(t, l, errc)
}

func TestLoopTimeoutsFireInDeadlineOrder(t *testing.T) {
	l := New()
	l.ScheduleTimeout(1, 60*time.Millisecond)
	l.ScheduleTimeout(2, 20*time.Millisecond)
	cancelled := l.ScheduleTimeout(3, 40*time.Millisecond)
	if !l.CancelTimeout(cancelled) {
		t.Fatal("CancelTimeout() = false for a pending timer")
	}
	if l.CancelTimeout(cancelled) {
		t.Fatal("CancelTimeout() = true for an already cancelled timer")
	}

	r := newRecorder()
	errc := run(t, l, r)

	for _, want := range []Token{2, 1} {
		select {
		case got := <-r.timeouts:
			if got != want {
				t.Fatalf("timeout token = %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout for token %d never fired", want)
		}
	}

	select {
	case got := <-r.timeouts:
		t.Fatalf("cancelled timeout fired for token %d", got)
	case <-time.After(100 * time.Millisecond):
	}

	stop(t, l, errc)
}

func TestLoopRegistrationErrors(t *testing.T) {
	server := listen(t)
	l := New()

	if err := l.Register(server, 1, 0); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := l.Register(server, 1, Readable); !errors.Is(err, ErrRegistered) {
		t.Errorf("Register() twice error = %v, want %v", err, ErrRegistered)
	}
	if err := l.Reregister(server, 2, Readable); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Reregister() unknown error = %v, want %v", err, ErrNotRegistered)
	}
	if err := l.Deregister(2); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Deregister() unknown error = %v, want %v", err, ErrNotRegistered)
	}
}

func TestSenderConcurrentAndClosed(t *testing.T) {
	l := New()

	var mu sync.Mutex
	var got int
	r := newRecorder()
	r.control = func(EventLoop, interface{}) {
		mu.Lock()
		got++
		mu.Unlock()
	}
	errc := run(t, l, r)

	const senders, each = 8, 50
	var wg sync.WaitGroup
	wg.Add(senders)
	for i := 0; i < senders; i++ {
		go func() {
			defer wg.Done()
			s := l.Sender()
			for j := 0; j < each; j++ {
				if err := s.Send(j); err != nil {
					t.Errorf("Send() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	stop(t, l, errc)

	mu.Lock()
	defer mu.Unlock()
	if got != senders*each {
		t.Errorf("delivered %d messages, want %d", got, senders*each)
	}

	if err := l.Sender().Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after stop error = %v, want %v", err, ErrClosed)
	}
	if err := l.Run(r); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after stop error = %v, want %v", err, ErrClosed)
	}
}

func TestReadyString(t *testing.T) {
	tests := []struct {
		ready Ready
		want  string
	}{
		{0, "none"},
		{Readable, "readable"},
		{Writable, "writable"},
		{Readable | Writable, "readable|writable"},
	}
	for _, tt := range tests {
		if got := tt.ready.String(); got != tt.want {
			t.Errorf("Ready(%d).String() = %q, want %q", tt.ready, got, tt.want)
		}
	}
}
