package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ClientOptions bound the session protocol. Zero values fall back to the
// defaults below.
type ClientOptions struct {
	// InitTimeout bounds the initialize handshake.
	InitTimeout time.Duration
	// CallTimeout bounds each tools/call round trip.
	CallTimeout time.Duration
	// ShutdownGrace bounds the best-effort shutdown notification.
	ShutdownGrace time.Duration
	// LateReplyGrace keeps an abandoned correlation id matchable for a
	// short window so a late reply is discarded instead of logged as
	// an unmatched response.
	LateReplyGrace time.Duration
	// ClientInfo is sent during initialize.
	ClientInfo Implementation
}

const (
	defaultInitTimeout    = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second
	defaultShutdownGrace  = 5 * time.Second
	defaultLateReplyGrace = 2 * time.Second
)

func (o ClientOptions) withDefaults() ClientOptions {
	if o.InitTimeout <= 0 {
		o.InitTimeout = defaultInitTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = defaultShutdownGrace
	}
	if o.LateReplyGrace <= 0 {
		o.LateReplyGrace = defaultLateReplyGrace
	}
	if o.ClientInfo.Name == "" {
		o.ClientInfo = Implementation{Name: "anymcp", Version: "1.0.0"}
	}
	return o
}

type pendingCall struct {
	ch        chan *Response
	abandoned bool
}

// Client runs the session protocol over one Transport: initialize,
// tools/list, tools/call, shutdown. Responses are correlated by id, so
// calls may be pipelined; a dedicated goroutine owns the read side.
type Client struct {
	transport Transport
	logger    *zap.SugaredLogger
	opts      ClientOptions

	nextID atomic.Int64

	mu            sync.Mutex
	pending       map[string]*pendingCall
	closed        bool
	disconnectErr error

	timeoutStreak atomic.Int32

	readerDone chan struct{}
}

// NewClient wraps a connected transport and starts its reader loop.
func NewClient(transport Transport, logger *zap.SugaredLogger, opts ClientOptions) *Client {
	c := &Client{
		transport:  transport,
		logger:     logger,
		opts:       opts.withDefaults(),
		pending:    make(map[string]*pendingCall),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop is the only reader of the transport. It matches responses to
// pending calls by correlation id; unmatched or malformed frames are
// logged and dropped. On stream close every pending call fails with a
// disconnected error.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		frame, err := c.transport.Receive()
		if err != nil {
			c.failPending(err)
			return
		}

		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			c.logger.Warnw("dropping malformed frame", "error", err, "frame", truncate(frame, 200))
			continue
		}
		if resp.Method != "" {
			// Server-initiated request or notification; we advertise no
			// capabilities that invite them.
			c.logger.Debugw("ignoring server-initiated message", "method", resp.Method)
			continue
		}

		key, ok := idKey(resp.ID)
		if !ok {
			c.logger.Warnw("dropping response without usable id", "frame", truncate(frame, 200))
			continue
		}

		c.mu.Lock()
		call, found := c.pending[key]
		var abandoned bool
		if found {
			delete(c.pending, key)
			abandoned = call.abandoned
		}
		c.mu.Unlock()

		if !found {
			c.logger.Warnw("dropping unmatched response", "id", resp.ID)
			continue
		}
		if abandoned {
			c.logger.Debugw("discarding late reply", "id", resp.ID)
			continue
		}
		call.ch <- &resp
	}
}

// failPending unblocks every waiting caller with a nil response, which
// roundTrip reports as a disconnect. Deliverability is decided under the
// lock; abandon flips the flag under the same lock.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	if c.disconnectErr == nil {
		c.disconnectErr = err
	}
	var deliver []chan *Response
	for _, call := range c.pending {
		if !call.abandoned {
			deliver = append(deliver, call.ch)
		}
	}
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, ch := range deliver {
		ch <- nil
	}
}

// roundTrip sends one request and waits for its correlated response.
func (c *Client) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	key, _ := idKey(id)

	call := &pendingCall{ch: make(chan *Response, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &TransportError{Kind: TransportDisconnected, Err: errors.New("client closed")}
	}
	c.pending[key] = call
	c.mu.Unlock()

	req := Request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}
	frame, err := json.Marshal(req)
	if err != nil {
		c.unregister(key)
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}
	if err := c.transport.Send(frame); err != nil {
		c.unregister(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-call.ch:
		if resp == nil {
			c.mu.Lock()
			cause := c.disconnectErr
			c.mu.Unlock()
			return nil, &TransportError{Kind: TransportDisconnected, Err: cause}
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		c.abandon(key, call)
		return nil, &TransportError{Kind: TransportTimeout, Err: fmt.Errorf("%s exceeded %v", method, timeout)}
	case <-ctx.Done():
		c.abandon(key, call)
		return nil, &TransportError{Kind: TransportDisconnected, Err: ctx.Err()}
	}
}

// abandon gives up waiting on a correlation id but leaves it matchable
// for LateReplyGrace so a straggler reply is discarded quietly.
func (c *Client) abandon(key string, call *pendingCall) {
	c.mu.Lock()
	call.abandoned = true
	c.mu.Unlock()

	time.AfterFunc(c.opts.LateReplyGrace, func() {
		c.unregister(key)
	})
}

func (c *Client) unregister(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Client) notify(method string, params any) error {
	frame, err := json.Marshal(Request{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return err
	}
	return c.transport.Send(frame)
}

// Initialize performs the session handshake. It fails with a
// SessionError if the provider does not answer within InitTimeout or
// negotiates an unusable protocol version.
func (c *Client) Initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.opts.ClientInfo,
	}
	raw, err := c.roundTrip(ctx, methodInitialize, params, c.opts.InitTimeout)
	if err != nil {
		return &SessionError{Reason: "initialize failed", Err: err}
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &SessionError{Reason: "unreadable initialize result", Err: err}
	}
	if result.ProtocolVersion == "" {
		return &SessionError{Reason: "provider did not negotiate a protocol version"}
	}

	c.logger.Infow("session established",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)

	// The handshake completes with the initialized notification; some
	// providers refuse further requests until they see it.
	if err := c.notify(notifyInitialized, map[string]any{}); err != nil {
		return &SessionError{Reason: "initialized notification failed", Err: err}
	}
	return nil
}

// ListTools returns the provider's tool advertisements in the order
// advertised. An empty list is a valid answer.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.roundTrip(ctx, methodToolsList, map[string]any{}, c.opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Kind: TransportMalformed, Err: err}
	}
	return result.Tools, nil
}

// CallTool invokes one tool. A provider-side error payload comes back as
// a ToolError; channel failures come back as TransportError. Timeouts
// abandon the wait without tearing down the channel, and bump the
// consecutive-timeout streak the supervisor uses for escalation.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.roundTrip(ctx, methodToolsCall, callToolParams{Name: name, Arguments: args}, c.opts.CallTimeout)
	if err != nil {
		var terr *TransportError
		if errors.As(err, &terr) && terr.Kind == TransportTimeout {
			c.timeoutStreak.Add(1)
			return nil, err
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			c.timeoutStreak.Store(0)
			return nil, &ToolError{Code: rpcErr.Code, Message: rpcErr.Message}
		}
		return nil, err
	}
	c.timeoutStreak.Store(0)

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Kind: TransportMalformed, Err: err}
	}
	return &result, nil
}

// ConsecutiveTimeouts reports how many tools/call requests in a row have
// timed out since the last successful round trip.
func (c *Client) ConsecutiveTimeouts() int {
	return int(c.timeoutStreak.Load())
}

// ResetTimeoutStreak clears the consecutive-timeout counter. The
// supervisor calls this once a streak has been consumed by an
// escalation, so one bad stretch degrades the provider exactly once.
func (c *Client) ResetTimeoutStreak() {
	c.timeoutStreak.Store(0)
}

// Shutdown sends a best-effort shutdown request bounded by the grace
// period, then closes the channel regardless of the outcome.
func (c *Client) Shutdown(ctx context.Context) error {
	graceCtx, cancel := context.WithTimeout(ctx, c.opts.ShutdownGrace)
	defer cancel()

	if _, err := c.roundTrip(graceCtx, methodShutdown, map[string]any{}, c.opts.ShutdownGrace); err != nil {
		// Many providers never implement shutdown; close anyway.
		c.logger.Debugw("shutdown request not honored", "error", err)
	}
	return c.Close()
}

// Close tears down the transport and fails any pending calls with a
// disconnected error. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.transport.Close()

	select {
	case <-c.readerDone:
	case <-time.After(time.Second):
		c.logger.Warnw("reader did not drain after close")
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
