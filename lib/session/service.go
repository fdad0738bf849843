package session

import (
	"github.com/go-sshd/go-sshd/lib/sshbuf"
)

// Service is an upper-layer protocol started by name after a
// SERVICE_REQUEST/SERVICE_ACCEPT handshake (e.g. "ssh-userauth",
// "ssh-connection"). The session forwards every non-transport packet to the
// current service.
type Service interface {
	// Name returns the service name used in the handshake.
	Name() string

	// Process handles one decoded packet. cmd is the message number; the
	// buffer is positioned just past it and is only valid during the call.
	// A returned error is fatal for the session.
	Process(cmd byte, buf *sshbuf.Buffer) error

	// Close releases the service's resources when the session ends.
	Close() error
}

// ServiceFactory creates a service instance bound to a session.
type ServiceFactory struct {
	// Name is the service name requested by the peer.
	Name string

	// Create constructs the service for the given session.
	Create func(s *Session) (Service, error)
}

// IoSession is the abstract byte-stream the session runs over. The
// asynchronous I/O layer delivers inbound bytes to Session.MessageReceived;
// outbound packets go through Write.
type IoSession interface {
	// Write queues the readable region of buf for transmission and returns
	// a future resolved when the write completes. Callers serialize writes
	// under the session's encode lock, so wire order matches call order.
	Write(buf *sshbuf.Buffer) *WriteFuture

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string

	// Close tears down the underlying transport. Must be idempotent.
	Close() error
}
