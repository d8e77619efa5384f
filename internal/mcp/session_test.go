package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeTransport scripts a tool server without a real subprocess.
type fakeTransport struct {
	mu       sync.Mutex
	requests []rpcRequest
	incoming chan []byte
	closed   bool

	// onWrite inspects each decoded request and may push responses.
	onWrite func(t *fakeTransport, req rpcRequest)
}

func newFakeTransport(onWrite func(t *fakeTransport, req rpcRequest)) *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 32),
		onWrite:  onWrite,
	}
}

func (t *fakeTransport) WriteLine(line []byte) error {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return err
	}
	t.mu.Lock()
	t.requests = append(t.requests, req)
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	if t.onWrite != nil {
		t.onWrite(t, req)
	}
	return nil
}

func (t *fakeTransport) ReadLine() ([]byte, error) {
	line, ok := <-t.incoming
	if !ok {
		return nil, io.EOF
	}
	return line, nil
}

func (t *fakeTransport) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.incoming)
	}
	return nil
}

func (t *fakeTransport) push(line string) {
	t.incoming <- []byte(line)
}

func (t *fakeTransport) respond(id int64, result string) {
	t.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func (t *fakeTransport) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func TestSessionRequestIDsMonotone(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, req rpcRequest) {
		if req.ID != nil {
			ft.respond(*req.ID, `{}`)
		}
	})
	sess := newSession(ft, zap.NewNop())
	defer sess.close()

	for want := int64(1); want <= 3; want++ {
		if _, err := sess.request(context.Background(), "ping", nil, time.Second); err != nil {
			t.Fatalf("request %d: %v", want, err)
		}
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i, req := range ft.requests {
		if req.ID == nil || *req.ID != int64(i+1) {
			t.Errorf("request %d has id %v, want %d", i, req.ID, i+1)
		}
	}
}

func TestSessionOutOfOrderResponses(t *testing.T) {
	// Hold both requests, then answer them reversed. Correlation must rely
	// on ids, never arrival order.
	var pending []int64
	var mu sync.Mutex
	ft := newFakeTransport(func(ft *fakeTransport, req rpcRequest) {
		mu.Lock()
		pending = append(pending, *req.ID)
		ready := len(pending) == 2
		ids := append([]int64(nil), pending...)
		mu.Unlock()
		if ready {
			ft.respond(ids[1], `{"answer":"second"}`)
			ft.respond(ids[0], `{"answer":"first"}`)
		}
	})
	sess := newSession(ft, zap.NewNop())
	defer sess.close()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := sess.request(context.Background(), "q", nil, time.Second)
			if err != nil {
				t.Errorf("request %d: %v", idx, err)
				return
			}
			var parsed struct {
				Answer string `json:"answer"`
			}
			_ = json.Unmarshal(res, &parsed)
			results[idx] = parsed.Answer
		}(i)
		// Deterministic dispatch order so ids map to goroutine index.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	if results[0] != "first" || results[1] != "second" {
		t.Errorf("results = %v, responses were mis-correlated", results)
	}
}

func TestSessionTimeoutClearsPending(t *testing.T) {
	ft := newFakeTransport(nil) // never answers
	sess := newSession(ft, zap.NewNop())
	defer sess.close()

	_, err := sess.request(context.Background(), "slow", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrRequestTimedOut) {
		t.Fatalf("err = %v, want ErrRequestTimedOut", err)
	}

	sess.mu.Lock()
	pending := len(sess.pending)
	sess.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d entries left in correlation table after timeout", pending)
	}

	// A late response for the timed-out id must be dropped silently.
	ft.respond(1, `{}`)
	time.Sleep(50 * time.Millisecond)
}

func TestSessionEOFFailsPending(t *testing.T) {
	ft := newFakeTransport(nil)
	sess := newSession(ft, zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.request(context.Background(), "q", nil, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ft.Kill() // reader sees EOF

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("err = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not failed after stream end")
	}

	if sess.alive() {
		t.Error("session still alive after stream end")
	}
}

func TestSessionNotificationsDiscarded(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, req rpcRequest) {
		if req.ID != nil {
			// A notification and garbage arrive before the real response.
			ft.push(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)
			ft.push(`not json at all`)
			ft.respond(*req.ID, `{"ok":true}`)
		}
	})
	sess := newSession(ft, zap.NewNop())
	defer sess.close()

	res, err := sess.request(context.Background(), "q", nil, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(res) != `{"ok":true}` {
		t.Errorf("result = %s", res)
	}
}

func TestSessionServerError(t *testing.T) {
	ft := newFakeTransport(func(ft *fakeTransport, req rpcRequest) {
		if req.ID != nil {
			ft.push(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, *req.ID))
		}
	})
	sess := newSession(ft, zap.NewNop())
	defer sess.close()

	_, err := sess.request(context.Background(), "nope", nil, time.Second)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("code = %d", rpcErr.Code)
	}
}
