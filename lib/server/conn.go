package server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-sshd/go-sshd/lib/session"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Conn adapts a net.Conn into the session's abstract I/O session. Outbound
// packets are queued to a dedicated writer goroutine so wire order matches
// the order writes were accepted under the session's encode lock.
type Conn struct {
	conn   net.Conn
	remote string

	queue     chan outbound
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

type outbound struct {
	data   []byte
	future *session.WriteFuture
}

// NewConn wraps a net.Conn with a writer queue of the given depth.
func NewConn(conn net.Conn, queueSize int) *Conn {
	c := &Conn{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		queue:  make(chan outbound, queueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop drains the outbound queue onto the socket, resolving each write
// future as its packet is handed to the operating system.
func (c *Conn) writeLoop() {
	for {
		select {
		case out := <-c.queue:
			if c.closed.Load() {
				out.future.Complete(util.ErrSessionClosed)
				continue
			}
			_, err := c.conn.Write(out.data)
			out.future.Complete(err)
		case <-c.done:
			// Fail whatever is still queued.
			for {
				select {
				case out := <-c.queue:
					out.future.Complete(util.ErrSessionClosed)
				default:
					return
				}
			}
		}
	}
}

// Write implements session.IoSession. The readable region of buf is copied
// so the caller may reuse the buffer immediately.
func (c *Conn) Write(buf *sshbuf.Buffer) *session.WriteFuture {
	f := session.NewWriteFuture()
	if c.closed.Load() {
		f.Complete(util.ErrSessionClosed)
		return f
	}
	data := buf.CompactData()
	select {
	case c.queue <- outbound{data: data, future: f}:
	case <-c.done:
		f.Complete(util.ErrSessionClosed)
	}
	return f
}

// RemoteAddr implements session.IoSession.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Close implements session.IoSession. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// RemoteIP returns the host portion of the remote address, for throttling.
func (c *Conn) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.remote)
	if err != nil {
		return c.remote
	}
	return host
}
