// Package session implements the SSH-2 transport-layer session core: message
// dispatch, key exchange coordination, the pending-write queue, the
// request/response rendezvous, timeouts and disconnect handling.
//
// A Session is driven by an external asynchronous I/O layer that delivers
// inbound bytes through MessageReceived and consumes outbound packets
// through the IoSession. Reads and writes are serialized independently
// under the decode and encode locks; higher-level packets submitted during
// a key exchange are queued and released atomically when the exchange
// completes.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-sshd/go-sshd/lib/codec"
	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/kex"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Role distinguishes the server and client side of a session.
type Role int

const (
	// RoleServer is the accepting side.
	RoleServer Role = iota
	// RoleClient is the initiating side.
	RoleClient
)

// String returns a human-readable role name.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// TimeoutStatus records which timeout, if any, tore the session down.
type TimeoutStatus int32

const (
	// TimeoutNone indicates no timeout has occurred.
	TimeoutNone TimeoutStatus = iota
	// TimeoutAuth indicates the authentication deadline expired.
	TimeoutAuth
	// TimeoutIdle indicates the idle deadline expired.
	TimeoutIdle
)

// String returns a human-readable status name.
func (t TimeoutStatus) String() string {
	switch t {
	case TimeoutAuth:
		return "AuthTimeout"
	case TimeoutIdle:
		return "IdleTimeout"
	default:
		return "NoTimeout"
	}
}

// Config carries the collaborators a session needs. Manager is required;
// everything else has a usable zero value.
type Config struct {
	// Role selects the server or client side.
	Role Role

	// Manager resolves named algorithm factories and configuration
	// properties.
	Manager *factory.Manager

	// Software is the software version string for the identification line.
	Software string

	// Comments is the optional identification comment field.
	Comments string

	// Services are the upper-layer services this session can start.
	Services []ServiceFactory

	// CheckKeys verifies the host key when a key exchange completes. Nil
	// accepts the exchange as-is; clients normally install a verifier here.
	CheckKeys func(kx factory.KeyExchange) error

	// Logger receives the session's log output. Nil uses the standard
	// logrus logger.
	Logger *logrus.Logger
}

var sessionIDCounter atomic.Uint64

// Session is one SSH connection's transport state machine.
type Session struct {
	id      uint64
	role    Role
	io      IoSession
	manager *factory.Manager
	random  factory.Random
	log     *logrus.Entry

	// Identification exchange
	clientVersion string
	serverVersion string
	identMu       sync.Mutex

	// Key exchange
	proposalMu     sync.Mutex
	clientProposal protocol.Proposal
	serverProposal protocol.Proposal
	negotiated     protocol.Proposal
	clientKexInit  []byte
	serverKexInit  []byte
	kx             factory.KeyExchange
	kexState       atomic.Int32
	kexFuture      atomic.Pointer[Future]
	sessionID      []byte
	lastKeyTime    atomic.Int64 // unix nanoseconds of the last key install

	// Packet framing
	encoder  *codec.Encoder
	decoder  *codec.Decoder
	encodeMu sync.Mutex
	decodeMu sync.Mutex

	// Dispatch monitor
	stateMu sync.Mutex

	// Pending writes parked during key exchange
	pendingMu sync.Mutex
	pending   []pendingWrite

	// Global-request rendezvous
	requestMu     sync.Mutex // serializes Request callers
	resultMu      sync.Mutex
	resultCond    *sync.Cond
	requestResult *sshbuf.Buffer
	requestDone   bool

	// Authentication state
	authed       atomic.Bool
	username     string
	authAttempts atomic.Int32

	// Services. Guarded by svcMu, not the dispatch monitor: services and
	// listeners call back into the session while dispatch is running.
	svcMu            sync.Mutex
	serviceFactories []ServiceFactory
	currentService   Service
	pendingService   string
	checkKeysFn      func(factory.KeyExchange) error

	// Timeouts
	authTimeout       time.Duration
	idleTimeout       time.Duration
	disconnectTimeout time.Duration
	authDeadline      atomic.Int64 // unix nanoseconds
	idleDeadline      atomic.Int64 // unix nanoseconds
	timeoutStatus     atomic.Int32

	// Rekey triggers
	rekeyBytesLimit int64
	rekeyTimeLimit  time.Duration

	attrs sync.Map

	listeners        listenerSet[Listener]
	channelListeners listenerSet[ChannelListener]

	closing   atomic.Bool
	closeOnce sync.Once
}

// New creates a session over the given I/O session. Start must be called to
// begin the identification exchange.
func New(cfg Config, io IoSession) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := cfg.Manager
	id := sessionIDCounter.Add(1)
	s := &Session{
		id:      id,
		role:    cfg.Role,
		io:      io,
		manager: m,
		random:  m.NewRandom(),
		log: logger.WithFields(logrus.Fields{
			"session": id,
			"remote":  io.RemoteAddr(),
			"role":    cfg.Role.String(),
		}),
		serviceFactories:  cfg.Services,
		checkKeysFn:       cfg.CheckKeys,
		authTimeout:       m.DurationProperty(factory.PropAuthTimeout, factory.DefaultAuthTimeout),
		idleTimeout:       m.DurationProperty(factory.PropIdleTimeout, factory.DefaultIdleTimeout),
		disconnectTimeout: m.DurationProperty(factory.PropDisconnectTimeout, factory.DefaultDisconnectTimeout),
		rekeyBytesLimit:   m.LongProperty(factory.PropRekeyBytesLimit, factory.DefaultRekeyBytesLimit),
		rekeyTimeLimit:    m.DurationProperty(factory.PropRekeyTimeLimit, factory.DefaultRekeyTimeLimit),
	}
	s.resultCond = sync.NewCond(&s.resultMu)
	authedFn := s.authed.Load
	s.encoder = codec.NewEncoder(s.random, authedFn)
	s.decoder = codec.NewDecoder(authedFn)
	s.kexState.Store(int32(kex.StateUnknown))

	now := time.Now()
	s.authDeadline.Store(now.Add(s.authTimeout).UnixNano())
	s.idleDeadline.Store(now.Add(s.idleTimeout).UnixNano())
	s.lastKeyTime.Store(now.UnixNano())

	localIdent := protocol.Identification(cfg.Software, cfg.Comments)
	if cfg.Role == RoleServer {
		s.serverVersion = localIdent
	} else {
		s.clientVersion = localIdent
	}
	return s
}

// ID returns the session's registry identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// Role returns which side of the connection this session is.
func (s *Session) Role() Role {
	return s.role
}

// Manager returns the factory manager.
func (s *Session) Manager() *factory.Manager {
	return s.manager
}

// IoSession returns the underlying byte-stream session.
func (s *Session) IoSession() IoSession {
	return s.io
}

// SessionID returns a copy of the session id (the first exchange hash), or
// nil before the first key exchange completes.
func (s *Session) SessionID() []byte {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	if s.sessionID == nil {
		return nil
	}
	out := make([]byte, len(s.sessionID))
	copy(out, s.sessionID)
	return out
}

// ClientVersion returns the client identification string.
func (s *Session) ClientVersion() string {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	return s.clientVersion
}

// ServerVersion returns the server identification string.
func (s *Session) ServerVersion() string {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	return s.serverVersion
}

// KexState returns the current key exchange state.
func (s *Session) KexState() kex.State {
	return kex.State(s.kexState.Load())
}

// NegotiatedAlgorithm returns the agreed algorithm for a slot, or "" before
// negotiation.
func (s *Session) NegotiatedAlgorithm(slot protocol.Slot) string {
	s.proposalMu.Lock()
	defer s.proposalMu.Unlock()
	return s.negotiated[slot]
}

// IsAuthenticated returns true once the upper layer marked the session
// authenticated.
func (s *Session) IsAuthenticated() bool {
	return s.authed.Load()
}

// SetAuthenticated marks the session authenticated. The userauth service
// must call this after sending SSH_MSG_USERAUTH_SUCCESS and before the next
// ingress packet is dispatched, so delayed compression activates on the
// first post-auth packet in both directions.
func (s *Session) SetAuthenticated(username string) {
	s.identMu.Lock()
	s.username = username
	s.identMu.Unlock()
	s.authed.Store(true)
	s.fireEvent(EventAuthenticated)
}

// Username returns the authenticated username, or "".
func (s *Session) Username() string {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	return s.username
}

// IncrementAuthAttempts counts one failed authentication attempt and
// returns the new total. The userauth service enforces the
// max-auth-requests policy against this counter.
func (s *Session) IncrementAuthAttempts() int {
	return int(s.authAttempts.Add(1))
}

// IsClosing returns true once the session has started shutting down.
func (s *Session) IsClosing() bool {
	return s.closing.Load()
}

// GetAttribute returns a user-defined attribute, or nil.
func (s *Session) GetAttribute(key any) any {
	v, _ := s.attrs.Load(key)
	return v
}

// SetAttribute stores a user-defined attribute, returning the previous
// value.
func (s *Session) SetAttribute(key, value any) any {
	prev, _ := s.attrs.Swap(key, value)
	return prev
}

// AddListener registers a session listener. Registration is rejected while
// the session is closing.
func (s *Session) AddListener(l Listener) bool {
	if s.closing.Load() {
		return false
	}
	return s.listeners.add(l)
}

// RemoveListener deregisters a session listener.
func (s *Session) RemoveListener(l Listener) bool {
	return s.listeners.remove(l)
}

// AddChannelListener registers a channel listener. Registration is rejected
// while the session is closing.
func (s *Session) AddChannelListener(l ChannelListener) bool {
	if s.closing.Load() {
		return false
	}
	return s.channelListeners.add(l)
}

// RemoveChannelListener deregisters a channel listener.
func (s *Session) RemoveChannelListener(l ChannelListener) bool {
	return s.channelListeners.remove(l)
}

// NotifyChannelOpened fans a channel-open event out to the channel
// listeners.
func (s *Session) NotifyChannelOpened(channelID uint32) {
	dispatch(s.log, s.channelListeners.snapshot(), func(l ChannelListener) {
		l.ChannelOpened(s.id, channelID)
	})
}

// NotifyChannelClosed fans a channel-close event out to the channel
// listeners.
func (s *Session) NotifyChannelClosed(channelID uint32) {
	dispatch(s.log, s.channelListeners.snapshot(), func(l ChannelListener) {
		l.ChannelClosed(s.id, channelID)
	})
}

func (s *Session) fireEvent(event Event) {
	dispatch(s.log, s.listeners.snapshot(), func(l Listener) {
		l.SessionEvent(s, event)
	})
}

// Start sends the local identification line. The server also sends its
// KEXINIT immediately; the client waits for the server's identification
// first.
func (s *Session) Start() error {
	var local string
	s.identMu.Lock()
	if s.role == RoleServer {
		local = s.serverVersion
	} else {
		local = s.clientVersion
	}
	s.identMu.Unlock()

	s.log.WithField("ident", local).Debug("Sending identification")
	f := s.io.Write(sshbuf.Wrap(protocol.IdentificationBytes(local)))
	<-f.Done()
	if err := f.Err(); err != nil {
		return err
	}

	if s.role == RoleServer {
		if s.kexState.CompareAndSwap(int32(kex.StateUnknown), int32(kex.StateInit)) {
			return s.sendKexInit()
		}
	}
	return nil
}

// MessageReceived is the ingress entry point: the I/O layer calls it with
// each chunk of bytes read from the wire. Fatal errors must be routed back
// through ExceptionCaught by the caller.
func (s *Session) MessageReceived(data []byte) error {
	s.decodeMu.Lock()
	defer s.decodeMu.Unlock()

	s.decoder.Append(data)

	if !s.identComplete() {
		done, err := s.readIdentification()
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		s.decoder.Buffer().Compact()
		// The client answers the server's identification with its KEXINIT.
		if s.role == RoleClient &&
			s.kexState.CompareAndSwap(int32(kex.StateUnknown), int32(kex.StateInit)) {
			if err := s.sendKexInit(); err != nil {
				return err
			}
		}
	}

	return s.decoder.Decode(s.handleMessage)
}

func (s *Session) identComplete() bool {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	return s.clientVersion != "" && s.serverVersion != ""
}

func (s *Session) readIdentification() (bool, error) {
	ident, err := protocol.ReadIdentification(s.decoder.Buffer(), s.role == RoleServer)
	if err != nil {
		return false, err
	}
	if ident == "" {
		return false, nil
	}
	s.log.WithField("ident", ident).Debug("Received identification")

	s.identMu.Lock()
	if s.role == RoleServer {
		s.clientVersion = ident
	} else {
		s.serverVersion = ident
	}
	s.identMu.Unlock()
	return true, nil
}

// handleMessage dispatches one decoded packet under the session monitor.
// Any error fails an in-flight key exchange future before propagating.
func (s *Session) handleMessage(buf *sshbuf.Buffer) error {
	s.stateMu.Lock()
	err := s.doHandleMessage(buf)
	s.stateMu.Unlock()

	if err != nil {
		if f := s.kexFuture.Load(); f != nil {
			f.Complete(err)
		}
		return err
	}
	return nil
}

func (s *Session) doHandleMessage(buf *sshbuf.Buffer) error {
	cmd, err := buf.GetByte()
	if err != nil {
		return err
	}

	switch {
	case cmd == protocol.MsgDisconnect:
		return s.handleDisconnect(buf)

	case cmd == protocol.MsgIgnore:
		s.log.Debug("Received SSH_MSG_IGNORE")

	case cmd == protocol.MsgUnimplemented:
		seq, err := buf.GetUint32()
		if err != nil {
			return err
		}
		s.log.WithField("seq", seq).Debug("Received SSH_MSG_UNIMPLEMENTED")

	case cmd == protocol.MsgDebug:
		display, err := buf.GetBoolean()
		if err != nil {
			return err
		}
		msg, err := buf.GetString()
		if err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"display": display, "msg": msg}).
			Debug("Received SSH_MSG_DEBUG")

	case cmd == protocol.MsgServiceRequest:
		if err := s.handleServiceRequest(buf); err != nil {
			return err
		}

	case cmd == protocol.MsgServiceAccept:
		if err := s.handleServiceAccept(); err != nil {
			return err
		}

	case cmd == protocol.MsgKexInit:
		if err := s.handleKexInit(buf); err != nil {
			return err
		}

	case cmd == protocol.MsgNewKeys:
		if err := s.handleNewKeys(); err != nil {
			return err
		}

	case cmd >= protocol.MsgKexFirst && cmd <= protocol.MsgKexLast:
		if err := s.validateKexState(cmd, kex.StateRun); err != nil {
			return err
		}
		buf.SetRpos(buf.Rpos() - 1)
		done, err := s.kx.Next(buf)
		if err != nil {
			return err
		}
		if done {
			if s.checkKeysFn != nil {
				if err := s.checkKeysFn(s.kx); err != nil {
					return err
				}
			}
			if err := s.sendNewKeys(); err != nil {
				return err
			}
			s.kexState.Store(int32(kex.StateKeys))
		}

	case s.service() != nil:
		if err := s.service().Process(cmd, buf); err != nil {
			return err
		}
		s.resetIdleTimeout()

	default:
		return util.NewSshErrorWithCause(util.DisconnectProtocolError,
			fmt.Sprintf("unsupported command %d with no active service", cmd),
			util.ErrProtocol)
	}

	return s.checkRekey()
}

func (s *Session) handleDisconnect(buf *sshbuf.Buffer) error {
	code, err := buf.GetUint32()
	if err != nil {
		return err
	}
	msg, err := buf.GetString()
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"reason": code, "msg": msg}).
		Debug("Received SSH_MSG_DISCONNECT")
	return s.Close()
}

func (s *Session) handleServiceRequest(buf *sshbuf.Buffer) error {
	name, err := buf.GetString()
	if err != nil {
		return err
	}
	s.log.WithField("service", name).Debug("Received SSH_MSG_SERVICE_REQUEST")
	if err := s.validateKexState(protocol.MsgServiceRequest, kex.StateDone); err != nil {
		return err
	}
	if err := s.startService(name); err != nil {
		s.log.WithError(err).WithField("service", name).Debug("Service rejected")
		return s.Disconnect(util.DisconnectServiceNotAvailable, "bad service request: "+name)
	}
	s.log.WithField("service", name).Debug("Accepted service")
	resp := sshbuf.NewPacketBuffer(protocol.MsgServiceAccept)
	resp.PutString(name)
	_, err = s.WritePacket(resp)
	return err
}

func (s *Session) handleServiceAccept() error {
	s.log.Debug("Received SSH_MSG_SERVICE_ACCEPT")
	if err := s.validateKexState(protocol.MsgServiceAccept, kex.StateDone); err != nil {
		return err
	}
	s.svcMu.Lock()
	name := s.pendingService
	s.pendingService = ""
	s.svcMu.Unlock()
	if name == "" {
		return util.NewSshErrorWithCause(util.DisconnectProtocolError,
			"SSH_MSG_SERVICE_ACCEPT with no pending service request", util.ErrProtocol)
	}
	return s.startService(name)
}

// service returns the active upstream service, or nil.
func (s *Session) service() Service {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	return s.currentService
}

// startService instantiates the named service and makes it current.
func (s *Session) startService(name string) error {
	for _, f := range s.serviceFactories {
		if f.Name == name {
			svc, err := f.Create(s)
			if err != nil {
				return err
			}
			s.svcMu.Lock()
			s.currentService = svc
			s.svcMu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("unknown service %q: %w", name, util.ErrServiceNotAvailable)
}

// StartService sends a SSH_MSG_SERVICE_REQUEST for the named service. Used
// by the client side; the service becomes current when the server's
// SSH_MSG_SERVICE_ACCEPT arrives.
func (s *Session) StartService(name string) error {
	s.svcMu.Lock()
	s.pendingService = name
	s.svcMu.Unlock()

	buf := sshbuf.NewPacketBuffer(protocol.MsgServiceRequest)
	buf.PutString(name)
	_, err := s.WritePacket(buf)
	return err
}

// CurrentService returns the active upstream service, or nil.
func (s *Session) CurrentService() Service {
	return s.service()
}

func (s *Session) validateKexState(cmd byte, expected kex.State) error {
	actual := kex.State(s.kexState.Load())
	if actual != expected {
		return util.NewSshErrorWithCause(util.DisconnectProtocolError,
			fmt.Sprintf("received command %d in kex state %s instead of %s",
				cmd, actual, expected),
			util.ErrProtocol)
	}
	return nil
}

// ExceptionCaught handles a fatal error raised outside the dispatch path
// (typically by the I/O layer). The session sends a single disconnect
// bounded by the disconnect grace, then closes.
func (s *Session) ExceptionCaught(err error) {
	if s.closing.Load() {
		return
	}
	s.log.WithError(err).Warn("Exception caught")

	if code := util.ToDisconnectCode(err); code > 0 && !s.closing.Load() {
		if derr := s.Disconnect(code, err.Error()); derr == nil {
			return
		}
	}
	_ = s.Close()
}
