package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSink struct {
	mu      sync.Mutex
	buf     strings.Builder
	starts  int
	active  int32
	overlap int32
	err     error
}

func (s *fakeSink) Start() (Capture, error) {
	if s.err != nil {
		return nil, s.err
	}
	if atomic.AddInt32(&s.active, 1) > 1 {
		atomic.StoreInt32(&s.overlap, 1)
	}
	s.mu.Lock()
	s.starts++
	s.buf.Reset()
	s.mu.Unlock()
	return s, nil
}

func (s *fakeSink) Stop() ([]byte, error) {
	atomic.AddInt32(&s.active, -1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(s.buf.String()), nil
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

type countingRelay struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (r *countingRelay) Send(port string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, string(body))
	return r.err
}

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestGuardedCall_NoListener(t *testing.T) {
	sink, relay := &fakeSink{}, &countingRelay{}
	f := &Forwarder{Sink: sink, Relay: relay, Getenv: env(nil)}

	ran := false
	f.GuardedCall("", func() {
		ran = true
		io.WriteString(sink, "error: boom\n")
	})
	if !ran {
		t.Fatal("work did not run")
	}
	if sink.starts != 0 {
		t.Errorf("sink starts = %d, want 0", sink.starts)
	}
	if len(relay.bodies) != 0 {
		t.Errorf("relay calls = %d, want 0", len(relay.bodies))
	}
}

func TestGuardedCall_NoListenerPanicUnchanged(t *testing.T) {
	relay := &countingRelay{}
	f := &Forwarder{Sink: &fakeSink{}, Relay: relay}
	want := errors.New("detector failure")

	defer func() {
		if got := recover(); got != want {
			t.Errorf("recovered %v, want %v", got, want)
		}
		if len(relay.bodies) != 0 {
			t.Errorf("relay calls = %d, want 0", len(relay.bodies))
		}
	}()
	f.GuardedCall("", func() { panic(want) })
}

func TestGuardedCall_WrapsJSON(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vuln" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s, want POST /vuln", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	sink := &fakeSink{}
	f := &Forwarder{Sink: sink, Relay: NewHTTPRelay(), Getenv: env(map[string]string{UnitEnv: "pallet_a"})}
	f.GuardedCall(u.Port(), func() {
		io.WriteString(sink, `{"code":{"code":"unsafe-unwrap"}}`+"\n")
	})

	want := `{"crate":"pallet_a","message":{"code":{"code":"unsafe-unwrap"}}}`
	if got != want {
		t.Errorf("relayed body = %s, want %s", got, want)
	}
}

func TestGuardedCall_RawText(t *testing.T) {
	sink, relay := &fakeSink{}, &countingRelay{}
	f := &Forwarder{Sink: sink, Relay: relay, Getenv: env(map[string]string{UnitEnv: "c"})}
	f.GuardedCall("9", func() {
		io.WriteString(sink, "warning: not json\nsecond line\n")
	})
	if len(relay.bodies) != 1 || relay.bodies[0] != "warning: not json\n" {
		t.Errorf("relay bodies = %q, want first line only", relay.bodies)
	}
}

func TestGuardedCall_PanicReraisedAfterRelay(t *testing.T) {
	sink, relay := &fakeSink{}, &countingRelay{}
	f := &Forwarder{Sink: sink, Relay: relay, Getenv: env(nil)}

	func() {
		defer func() {
			if got := recover(); got != "boom" {
				t.Errorf("recovered %v, want boom", got)
			}
		}()
		f.GuardedCall("9", func() { panic("boom") })
		t.Error("GuardedCall returned normally")
	}()

	if len(relay.bodies) != 1 || !strings.Contains(relay.bodies[0], "panic: boom") {
		t.Errorf("relay bodies = %q, want panic text", relay.bodies)
	}
	if atomic.LoadInt32(&sink.active) != 0 {
		t.Error("capture still active after panic")
	}
	// The lock must be free again.
	done := make(chan struct{})
	go func() {
		f.GuardedCall("", func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock not released after panic")
	}
}

func TestGuardedCall_RelayErrorSwallowed(t *testing.T) {
	sink := &fakeSink{}
	relay := &countingRelay{err: errors.New("connection refused")}
	f := &Forwarder{Sink: sink, Relay: relay}
	ran := false
	f.GuardedCall("1", func() { ran = true })
	if !ran {
		t.Error("work did not run")
	}
}

func TestGuardedCall_SinkFailureRunsWork(t *testing.T) {
	relay := &countingRelay{}
	f := &Forwarder{Sink: &fakeSink{err: errors.New("no pipe")}, Relay: relay}
	ran := false
	f.GuardedCall("1", func() { ran = true })
	if !ran {
		t.Error("work did not run")
	}
	if len(relay.bodies) != 0 {
		t.Errorf("relay calls = %d, want 0", len(relay.bodies))
	}
}

func TestGuardedCall_Serializes(t *testing.T) {
	sink, relay := &fakeSink{}, &countingRelay{}
	f := &Forwarder{Sink: sink, Relay: relay, Getenv: env(nil)}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.GuardedCall("9", func() {
				io.WriteString(sink, "x\n")
				time.Sleep(time.Millisecond)
			})
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&sink.overlap) != 0 {
		t.Error("captures overlapped")
	}
	if len(relay.bodies) != 16 {
		t.Errorf("relay calls = %d, want 16", len(relay.bodies))
	}
}

func TestHTTPRelay_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()
	if err := NewHTTPRelay().Send(u.Port(), []byte("x")); err == nil {
		t.Error("Send() to closed listener succeeded")
	}
}

type blockingRelay struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRelay) Send(port string, body []byte) error {
	if port == "1" {
		close(r.entered)
		<-r.release
	}
	return nil
}

func TestGuardedCall_RelayOutsideLock(t *testing.T) {
	relay := &blockingRelay{entered: make(chan struct{}), release: make(chan struct{})}
	f := &Forwarder{Sink: &fakeSink{}, Relay: relay, Getenv: env(nil)}
	defer close(relay.release)

	go f.GuardedCall("1", func() {})
	select {
	case <-relay.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first relay never started")
	}

	done := make(chan struct{})
	go func() {
		f.GuardedCall("2", func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second GuardedCall waited on the first call's relay")
	}
}

func TestGuardedCall_GoexitStopsCapture(t *testing.T) {
	sink, relay := &fakeSink{}, &countingRelay{}
	f := &Forwarder{Sink: sink, Relay: relay, Getenv: env(nil)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.GuardedCall("9", func() { runtime.Goexit() })
	}()
	<-done

	if atomic.LoadInt32(&sink.active) != 0 {
		t.Error("capture still active after Goexit")
	}
	if len(relay.bodies) != 0 {
		t.Errorf("relay calls = %d, want 0", len(relay.bodies))
	}
	unlocked := make(chan struct{})
	go func() {
		f.GuardedCall("", func() {})
		close(unlocked)
	}()
	select {
	case <-unlocked:
	case <-time.After(5 * time.Second):
		t.Fatal("lock not released after Goexit")
	}
}
