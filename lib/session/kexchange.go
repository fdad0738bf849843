package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/kex"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// kexConn adapts the session into the factory.PacketConn a key exchange
// uses for its method-specific messages.
type kexConn struct {
	s *Session
}

// SendKexPacket implements factory.PacketConn.
func (c kexConn) SendKexPacket(buf *sshbuf.Buffer) error {
	_, err := c.s.WritePacket(buf)
	return err
}

// buildLocalProposal assembles this side's proposal from the factory
// manager's name lists, preference order preserved.
func (s *Session) buildLocalProposal() (protocol.Proposal, error) {
	var p protocol.Proposal

	hostKeys := s.manager.SignatureAlgorithms()
	if len(hostKeys) == 0 {
		return p, util.NewSshErrorWithCause(util.DisconnectHostKeyNotVerifiable,
			"no host key signature algorithms available", util.ErrHostKeyNotVerifiable)
	}

	p[protocol.SlotKexAlgorithms] = protocol.JoinNames(factory.Names(s.manager.KeyExchangeFactories()))
	p[protocol.SlotServerHostKey] = protocol.JoinNames(hostKeys)

	ciphers := protocol.JoinNames(factory.Names(s.manager.CipherFactories()))
	p[protocol.SlotCipherC2S] = ciphers
	p[protocol.SlotCipherS2C] = ciphers

	macs := protocol.JoinNames(factory.Names(s.manager.MacFactories()))
	p[protocol.SlotMacC2S] = macs
	p[protocol.SlotMacS2C] = macs

	comps := protocol.JoinNames(factory.Names(s.manager.CompressionFactories()))
	p[protocol.SlotCompC2S] = comps
	p[protocol.SlotCompS2C] = comps

	p[protocol.SlotLangC2S] = ""
	p[protocol.SlotLangS2C] = ""
	return p, nil
}

// sendKexInit builds and sends the local SSH_MSG_KEXINIT, retaining the
// payload for the exchange hash.
func (s *Session) sendKexInit() error {
	proposal, err := s.buildLocalProposal()
	if err != nil {
		return err
	}

	s.log.Debug("Sending SSH_MSG_KEXINIT")
	buf := sshbuf.New()
	buf.SetWpos(sshbuf.HeaderGap)
	buf.SetRpos(sshbuf.HeaderGap)
	payload := protocol.WriteKexInit(buf, proposal, s.random)

	s.proposalMu.Lock()
	if s.role == RoleServer {
		s.serverProposal = proposal
		s.serverKexInit = payload
	} else {
		s.clientProposal = proposal
		s.clientKexInit = payload
	}
	s.proposalMu.Unlock()

	_, err = s.WritePacket(buf)
	return err
}

// receiveKexInit parses the remote SSH_MSG_KEXINIT and retains its payload
// for the exchange hash.
func (s *Session) receiveKexInit(buf *sshbuf.Buffer) error {
	proposal, payload, err := protocol.ParseKexInit(buf)
	if err != nil {
		return err
	}

	s.proposalMu.Lock()
	if s.role == RoleServer {
		s.clientProposal = proposal
		s.clientKexInit = payload
	} else {
		s.serverProposal = proposal
		s.serverKexInit = payload
	}
	s.proposalMu.Unlock()
	return nil
}

// handleKexInit processes the remote KEXINIT: state transition, algorithm
// negotiation, key exchange construction.
func (s *Session) handleKexInit(buf *sshbuf.Buffer) error {
	s.log.Debug("Received SSH_MSG_KEXINIT")
	if err := s.receiveKexInit(buf); err != nil {
		return err
	}

	// A remote KEXINIT in DONE state is a peer-initiated rekey: answer
	// with our own proposal before running.
	if s.kexState.CompareAndSwap(int32(kex.StateDone), int32(kex.StateRun)) {
		if err := s.sendKexInit(); err != nil {
			return err
		}
	} else if !s.kexState.CompareAndSwap(int32(kex.StateInit), int32(kex.StateRun)) {
		return util.NewSshErrorWithCause(util.DisconnectProtocolError,
			fmt.Sprintf("received SSH_MSG_KEXINIT while in state %s", s.KexState()),
			util.ErrProtocol)
	}

	s.proposalMu.Lock()
	client, server := s.clientProposal, s.serverProposal
	s.proposalMu.Unlock()

	negotiated, err := protocol.Negotiate(client, server)
	if err != nil {
		return err
	}
	s.proposalMu.Lock()
	s.negotiated = negotiated
	s.proposalMu.Unlock()

	s.log.WithFields(logrus.Fields{
		"kex":    negotiated[protocol.SlotKexAlgorithms],
		"c2s":    negotiated[protocol.SlotCipherC2S] + "/" + negotiated[protocol.SlotMacC2S] + "/" + negotiated[protocol.SlotCompC2S],
		"s2c":    negotiated[protocol.SlotCipherS2C] + "/" + negotiated[protocol.SlotMacS2C] + "/" + negotiated[protocol.SlotCompS2C],
		"hostkey": negotiated[protocol.SlotServerHostKey],
	}).Debug("Negotiated algorithms")

	kexName := negotiated[protocol.SlotKexAlgorithms]
	kx, ok := factory.Create(s.manager.KeyExchangeFactories(), kexName)
	if !ok {
		return util.NewSshErrorWithCause(util.DisconnectKeyExchangeFailed,
			fmt.Sprintf("unknown negotiated kex algorithm: %s", kexName),
			util.ErrKexFailure)
	}
	s.kx = kx

	s.identMu.Lock()
	info := factory.KexInfo{
		ServerVersion: s.serverVersion,
		ClientVersion: s.clientVersion,
	}
	s.identMu.Unlock()
	s.proposalMu.Lock()
	info.ServerKexInit = s.serverKexInit
	info.ClientKexInit = s.clientKexInit
	s.proposalMu.Unlock()

	if err := kx.Init(kexConn{s}, info); err != nil {
		return err
	}

	s.fireEvent(EventKexCompleted)
	return nil
}

// sendNewKeys announces that the next outgoing packet uses the new keys.
func (s *Session) sendNewKeys() error {
	s.log.Debug("Sending SSH_MSG_NEWKEYS")
	_, err := s.WritePacket(sshbuf.NewPacketBuffer(protocol.MsgNewKeys))
	return err
}

// handleNewKeys installs the freshly derived keys, completes the rekey
// future and drains the pending-write queue atomically with re-entering
// DONE.
func (s *Session) handleNewKeys() error {
	s.log.Debug("Received SSH_MSG_NEWKEYS")
	if err := s.validateKexState(protocol.MsgNewKeys, kex.StateKeys); err != nil {
		return err
	}

	// The very first exchange hash becomes the immutable session id.
	s.identMu.Lock()
	if s.sessionID == nil {
		h := s.kx.H()
		s.sessionID = make([]byte, len(h))
		copy(s.sessionID, h)
	}
	sessionID := s.sessionID
	s.identMu.Unlock()

	s.proposalMu.Lock()
	negotiated := s.negotiated
	s.proposalMu.Unlock()

	suites, err := kex.BuildSuites(s.manager, negotiated, s.role == RoleServer, s.kx, sessionID)
	if err != nil {
		return err
	}

	// The decode lock is already held by the ingress path; the encode lock
	// protects against a concurrent writer while the egress state swaps.
	s.encodeMu.Lock()
	s.encoder.InstallKeys(suites.Out.Cipher, suites.Out.Mac, suites.Out.Compression)
	s.encodeMu.Unlock()
	s.decoder.InstallKeys(suites.In.Cipher, suites.In.Mac, suites.In.Compression)
	s.lastKeyTime.Store(time.Now().UnixNano())

	if f := s.kexFuture.Load(); f != nil {
		f.Complete(nil)
	}
	s.fireEvent(EventKeyEstablished)

	// Drain the queue and re-enter DONE under the pending lock so no newly
	// accepted write can slip ahead of the drained ones.
	s.pendingMu.Lock()
	if len(s.pending) > 0 {
		s.log.WithField("count", len(s.pending)).Debug("Dequeuing pending packets")
		s.encodeMu.Lock()
		for _, p := range s.pending {
			s.completeWrite(p)
		}
		s.encodeMu.Unlock()
		s.pending = nil
	}
	s.kexState.Store(int32(kex.StateDone))
	s.pendingMu.Unlock()
	return nil
}

// completeWrite encodes and writes one parked packet, chaining the I/O
// completion to the future handed out when it was queued. Caller holds the
// encode lock.
func (s *Session) completeWrite(p pendingWrite) {
	encoded, err := s.encoder.Encode(p.buf)
	if err != nil {
		p.future.Complete(err)
		return
	}
	iof := s.io.Write(encoded)
	future := p.future
	select {
	case <-iof.Done():
		future.Complete(iof.Err())
	default:
		go func() {
			<-iof.Done()
			future.Complete(iof.Err())
		}()
	}
}

// ReExchangeKeys initiates a key re-exchange. Either peer may call this at
// any time after the first exchange; a no-op when one is already running.
// The returned future resolves when the exchange completes.
func (s *Session) ReExchangeKeys() (*Future, error) {
	if s.kexState.CompareAndSwap(int32(kex.StateDone), int32(kex.StateInit)) {
		s.log.Info("Initiating key re-exchange")

		old := s.kexFuture.Swap(NewFuture())
		if old != nil {
			old.Complete(util.NewSshErrorWithCause(util.DisconnectProtocolError,
				"new key exchange started while previous one still ongoing", util.ErrKexFailure))
		}
		if err := s.sendKexInit(); err != nil {
			return nil, err
		}
	}

	f := s.kexFuture.Load()
	if f == nil {
		// First exchange was started by the protocol itself; surface a
		// future for callers that want to observe it.
		f = NewFuture()
		if !s.kexFuture.CompareAndSwap(nil, f) {
			f = s.kexFuture.Load()
		}
	}
	return f, nil
}

// checkRekey triggers a re-exchange when the byte or time thresholds have
// been crossed. Called after every packet write and from dispatch.
func (s *Session) checkRekey() error {
	if kex.State(s.kexState.Load()) != kex.StateDone {
		return nil
	}
	rekey := false
	if s.rekeyBytesLimit > 0 &&
		(s.encoder.BytesCount() > s.rekeyBytesLimit || s.decoder.BytesCount() > s.rekeyBytesLimit) {
		rekey = true
	}
	if !rekey && s.rekeyTimeLimit > 0 {
		elapsed := time.Since(time.Unix(0, s.lastKeyTime.Load()))
		if elapsed > s.rekeyTimeLimit {
			rekey = true
		}
	}
	if !rekey {
		return nil
	}
	_, err := s.ReExchangeKeys()
	return err
}
