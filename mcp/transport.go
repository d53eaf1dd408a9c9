package mcp

import (
	"bufio"
	"io"
	"net"
	"sync"
)

// Transport moves one framed message at a time in each direction.
// Implementations carry no retry policy; that belongs to the layers above.
type Transport interface {
	// Send writes one message as a single frame.
	Send(msg []byte) error
	// Receive blocks until one full frame is available or the channel closes.
	Receive() ([]byte, error)
	// Close is idempotent and closes both directions. It does not kill
	// the process behind the pipes.
	Close() error
}

// StreamTransport frames newline-delimited messages over a byte stream
// pair, typically a subprocess's stdin/stdout or a network connection.
type StreamTransport struct {
	wmu     sync.Mutex
	w       io.Writer
	r       *bufio.Reader
	closers []io.Closer

	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	closed bool
}

// NewStdioTransport wraps a spawned process's pipes. stdin is the
// process's input (our write side), stdout its output (our read side).
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *StreamTransport {
	return &StreamTransport{
		w:       stdin,
		r:       bufio.NewReader(stdout),
		closers: []io.Closer{stdin, stdout},
	}
}

// NewConnTransport wraps an established network connection to an
// already-running provider.
func NewConnTransport(conn net.Conn) *StreamTransport {
	return &StreamTransport{
		w:       conn,
		r:       bufio.NewReader(conn),
		closers: []io.Closer{conn},
	}
}

// Send writes msg plus a trailing newline as one atomic write.
func (t *StreamTransport) Send(msg []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return &TransportError{Kind: TransportDisconnected, Err: io.ErrClosedPipe}
	}

	frame := make([]byte, 0, len(msg)+1)
	frame = append(frame, msg...)
	frame = append(frame, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(frame); err != nil {
		return &TransportError{Kind: TransportDisconnected, Err: err}
	}
	return nil
}

// Receive reads the next newline-terminated frame. Empty lines are
// skipped. A closed or broken stream surfaces as disconnected.
func (t *StreamTransport) Receive() ([]byte, error) {
	for {
		line, err := t.r.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				// Partial trailing frame before EOF; deliver it.
				return trimFrame(line), nil
			}
			return nil, &TransportError{Kind: TransportDisconnected, Err: err}
		}
		frame := trimFrame(line)
		if len(frame) == 0 {
			continue
		}
		return frame, nil
	}
}

// Close releases the underlying streams. Safe to call more than once
// and from any goroutine; unblocks a pending Receive.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		for _, c := range t.closers {
			if err := c.Close(); err != nil && t.closeErr == nil {
				t.closeErr = err
			}
		}
	})
	return t.closeErr
}

func trimFrame(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
