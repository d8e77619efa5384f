package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// session owns one live tool server process: the write side, the request-id
// counter, and the correlation table. A dedicated reader goroutine drains
// stdout and resolves pending requests by id. Reconnection replaces the
// whole session rather than mutating one in place.
type session struct {
	transport Transport
	logger    *zap.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResult
	dead    bool
}

func newSession(transport Transport, logger *zap.Logger) *session {
	s := &session{
		transport: transport,
		logger:    logger,
		nextID:    1,
		pending:   make(map[int64]chan rpcResult),
	}
	go s.readLoop()
	return s
}

// request sends one RPC and blocks until the reader resolves it, the timeout
// fires, or ctx is cancelled. The result slot is registered before the bytes
// hit the wire, so a response can never race past its waiter.
func (s *session) request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		rawParams = data
	}

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := s.nextID
	s.nextID++
	ch := make(chan rpcResult, 1)
	s.pending[id] = ch

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: rawParams})
	if err != nil {
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}
	if err := s.transport.WriteLine(payload); err != nil {
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.mu.Unlock()

	// The timeout fires even if the caller's ctx is already gone, so the
	// correlation table cannot leak entries.
	timer := time.AfterFunc(timeout, func() {
		s.resolve(id, rpcResult{err: ErrRequestTimedOut})
	})
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify sends a request with no id; no response is expected.
func (s *session) notify(method string, params interface{}) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		rawParams = data
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: rawParams})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return ErrNotConnected
	}
	if err := s.transport.WriteLine(payload); err != nil {
		return ErrNotConnected
	}
	return nil
}

func (s *session) readLoop() {
	for {
		line, err := s.transport.ReadLine()
		if err != nil {
			s.logger.Debug("tool server stream ended", zap.Error(err))
			s.fail()
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn("undecodable tool server message", zap.Error(err))
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing consumes these yet.
			continue
		}
		if resp.Error != nil {
			s.resolve(*resp.ID, rpcResult{err: resp.Error})
			continue
		}
		s.resolve(*resp.ID, rpcResult{result: resp.Result})
	}
}

// resolve delivers a result to the pending slot for id, if it still exists.
// Late responses after a timeout find no slot and are dropped.
func (s *session) resolve(id int64, res rpcResult) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		ch <- res
	}
}

// fail marks the session dead and drains the correlation table.
func (s *session) fail() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	waiters := s.pending
	s.pending = make(map[int64]chan rpcResult)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- rpcResult{err: ErrNotConnected}
	}
}

func (s *session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead
}

func (s *session) close() {
	_ = s.transport.Kill()
	s.fail()
}
