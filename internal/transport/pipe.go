package transport

import (
	"errors"
	"sync"
)

// ErrPipeClosed fails reads and writes on a closed pipe end.
var ErrPipeClosed = errors.New("transport: pipe closed")

type pipeFrame struct {
	binary  bool
	payload []byte
}

// pipeConn is an in-memory session.Conn used by tests: two ends connected
// by buffered channels, no sockets involved.
type pipeConn struct {
	recv      chan pipeFrame
	send      chan pipeFrame
	closeOnce sync.Once
	closed    chan struct{}
	peer      *pipeConn
}

// Pipe returns two connected in-memory transport ends.
func Pipe() (*pipeConn, *pipeConn) {
	ab := make(chan pipeFrame, 64)
	ba := make(chan pipeFrame, 64)
	a := &pipeConn{recv: ba, send: ab, closed: make(chan struct{})}
	b := &pipeConn{recv: ab, send: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeConn) ReadFrame() (bool, []byte, error) {
	select {
	case f := <-p.recv:
		return f.binary, f.payload, nil
	case <-p.closed:
		return false, nil, ErrPipeClosed
	case <-p.peer.closed:
		// drain whatever the peer flushed before closing
		select {
		case f := <-p.recv:
			return f.binary, f.payload, nil
		default:
			return false, nil, ErrPipeClosed
		}
	}
}

func (p *pipeConn) WriteFrame(binary bool, payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case p.send <- pipeFrame{binary: binary, payload: buf}:
		return nil
	case <-p.closed:
		return ErrPipeClosed
	case <-p.peer.closed:
		return ErrPipeClosed
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) RemoteAddr() string { return "pipe" }
