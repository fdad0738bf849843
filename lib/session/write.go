package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-sshd/go-sshd/lib/kex"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// WritePacket encodes and sends the given packet buffer, built with
// sshbuf.NewPacketBuffer so the header gap is reserved. While a key
// exchange is in progress, packets above the transport range are queued and
// released in FIFO order when the exchange completes; the returned future
// resolves when the packet is actually on the wire.
func (s *Session) WritePacket(buf *sshbuf.Buffer) (*WriteFuture, error) {
	if s.closing.Load() {
		return nil, util.ErrSessionClosed
	}

	if kex.State(s.kexState.Load()) != kex.StateDone {
		cmd := buf.Array()[buf.Rpos()]
		if cmd > protocol.MsgKexLast {
			s.pendingMu.Lock()
			// Re-check under the lock: queueing and the DONE check must be
			// atomic with respect to the drain in handleNewKeys.
			if kex.State(s.kexState.Load()) != kex.StateDone {
				if len(s.pending) == 0 {
					s.log.Debug("Queueing packets until key exchange is done")
				}
				f := NewWriteFuture()
				s.pending = append(s.pending, pendingWrite{buf: buf, future: f})
				s.pendingMu.Unlock()
				return f, nil
			}
			s.pendingMu.Unlock()
		}
	}

	f := s.doWritePacket(buf)
	s.resetIdleTimeout()
	if err := s.checkRekey(); err != nil {
		return f, err
	}
	return f, nil
}

// WritePacketTimeout is WritePacket with a deadline: when the underlying
// write has not completed within timeout, the future resolves with
// util.ErrTimeout. The disconnect path uses this so a peer that stopped
// reading cannot hold the session open.
func (s *Session) WritePacketTimeout(buf *sshbuf.Buffer, timeout time.Duration) (*WriteFuture, error) {
	f, err := s.WritePacket(buf)
	if err != nil {
		return nil, err
	}
	timer := time.AfterFunc(timeout, func() {
		if f.Complete(util.ErrTimeout) {
			s.log.WithField("timeout", timeout).Info("Timeout writing packet")
		}
	})
	go func() {
		<-f.Done()
		timer.Stop()
	}()
	return f, nil
}

// doWritePacket serializes encoding and the write call under the encode
// lock, so wire order matches logical order.
func (s *Session) doWritePacket(buf *sshbuf.Buffer) *WriteFuture {
	s.encodeMu.Lock()
	defer s.encodeMu.Unlock()

	encoded, err := s.encoder.Encode(buf)
	if err != nil {
		f := NewWriteFuture()
		f.Complete(err)
		return f
	}
	return s.io.Write(encoded)
}

// Request sends a global request and blocks until the peer's
// SSH_MSG_REQUEST_SUCCESS or SSH_MSG_REQUEST_FAILURE arrives. Senders are
// serialized; exactly one request is in flight at a time. The response
// buffer is returned on success, nil on failure. Must only be used for
// requests with want-reply set, else it waits until the session closes.
func (s *Session) Request(buf *sshbuf.Buffer) (*sshbuf.Buffer, error) {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	s.resultMu.Lock()
	s.requestDone = false
	s.requestResult = nil
	s.resultMu.Unlock()

	if _, err := s.WritePacket(buf); err != nil {
		return nil, err
	}

	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	for !s.requestDone && !s.closing.Load() {
		s.resultCond.Wait()
	}
	if !s.requestDone {
		return nil, util.ErrSessionClosed
	}
	return s.requestResult, nil
}

// RequestSuccess delivers a SSH_MSG_REQUEST_SUCCESS response to the parked
// sender. Called by the connection service from dispatch.
func (s *Session) RequestSuccess(buf *sshbuf.Buffer) {
	s.resultMu.Lock()
	s.requestResult = sshbuf.Wrap(buf.CompactData())
	s.requestDone = true
	s.resetIdleTimeout()
	s.resultCond.Signal()
	s.resultMu.Unlock()
}

// RequestFailure delivers a SSH_MSG_REQUEST_FAILURE response to the parked
// sender.
func (s *Session) RequestFailure() {
	s.resultMu.Lock()
	s.requestResult = nil
	s.requestDone = true
	s.resetIdleTimeout()
	s.resultCond.Signal()
	s.resultMu.Unlock()
}

// NotImplemented reports the last received packet as unsupported, carrying
// its sequence number per RFC 4253 section 11.4.
func (s *Session) NotImplemented() error {
	buf := sshbuf.NewPacketBuffer(protocol.MsgUnimplemented)
	buf.PutUint32(s.decoder.Seq() - 1)
	_, err := s.WritePacket(buf)
	return err
}

// Disconnect sends a single SSH_MSG_DISCONNECT with the given reason and
// closes the session when the write completes or the disconnect grace
// expires, whichever comes first.
func (s *Session) Disconnect(reason int, msg string) error {
	s.log.WithFields(logrus.Fields{"reason": reason, "msg": msg}).Info("Disconnecting")

	buf := sshbuf.NewPacketBuffer(protocol.MsgDisconnect)
	buf.PutUint32(uint32(reason))
	buf.PutString(msg)
	buf.PutString("") // language tag

	f, err := s.WritePacketTimeout(buf, s.disconnectTimeout)
	if err != nil {
		return s.Close()
	}
	go func() {
		<-f.Done()
		_ = s.Close()
	}()
	return nil
}

// resetIdleTimeout pushes the idle deadline to now + idle-timeout. Called
// on every direct packet write, on request responses and after each packet
// handled by the current service.
func (s *Session) resetIdleTimeout() {
	s.idleDeadline.Store(time.Now().Add(s.idleTimeout).UnixNano())
}

// TimeoutStatus reports which timeout, if any, ended the session.
func (s *Session) TimeoutStatus() TimeoutStatus {
	return TimeoutStatus(s.timeoutStatus.Load())
}

// CheckTimeouts disconnects the session when the auth or idle deadline has
// passed. The server's sweeper calls this periodically.
func (s *Session) CheckTimeouts() error {
	if s.closing.Load() {
		return nil
	}
	now := time.Now().UnixNano()
	if !s.authed.Load() && s.authTimeout > 0 && now > s.authDeadline.Load() {
		s.timeoutStatus.Store(int32(TimeoutAuth))
		return s.Disconnect(util.DisconnectProtocolError,
			"session timed out waiting for authentication")
	}
	if s.idleTimeout > 0 && now > s.idleDeadline.Load() {
		s.timeoutStatus.Store(int32(TimeoutIdle))
		return s.Disconnect(util.DisconnectProtocolError,
			"session timed out idling")
	}
	return nil
}

// Close tears the session down: the in-flight key exchange future and all
// queued writes are failed, the request waiter is woken, listeners are
// notified once and cleared, and the underlying transport is closed.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.log.Debug("Closing session")

		if f := s.kexFuture.Load(); f != nil {
			f.Complete(util.NewSshErrorWithCause(util.DisconnectProtocolError,
				"session closing while key exchange in progress", util.ErrSessionClosed))
		}

		s.pendingMu.Lock()
		pending := s.pending
		s.pending = nil
		s.pendingMu.Unlock()
		for _, p := range pending {
			p.fail()
		}

		s.resultMu.Lock()
		s.resultCond.Broadcast()
		s.resultMu.Unlock()

		final := s.listeners.seal()
		dispatch(s.log, final, func(l Listener) {
			l.SessionClosed(s)
		})
		s.channelListeners.seal()

		svc := s.service()
		if svc != nil {
			if err := svc.Close(); err != nil {
				s.log.WithError(err).Warn("Error closing service")
			}
		}

		if err := s.io.Close(); err != nil {
			s.log.WithError(err).Warn("Error closing transport")
		}
	})
	return nil
}
