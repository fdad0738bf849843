package factory

import (
	"strconv"
	"time"
)

// Configuration property keys recognized by the transport.
const (
	// PropAuthTimeout is the number of milliseconds a session may remain
	// unauthenticated before it is disconnected.
	PropAuthTimeout = "auth-timeout"

	// PropIdleTimeout is the number of milliseconds of inactivity before a
	// session is disconnected.
	PropIdleTimeout = "idle-timeout"

	// PropDisconnectTimeout is the grace period in milliseconds for the
	// SSH_MSG_DISCONNECT write before the session is closed regardless.
	PropDisconnectTimeout = "disconnect-timeout"

	// PropRekeyBytesLimit triggers a key re-exchange once this many bytes
	// have been transferred in either direction.
	PropRekeyBytesLimit = "rekey-bytes-limit"

	// PropRekeyTimeLimit triggers a key re-exchange once this many
	// milliseconds have elapsed since the last key install.
	PropRekeyTimeLimit = "rekey-time-limit"

	// PropMaxAuthRequests caps the number of failed authentication attempts
	// on the server side.
	PropMaxAuthRequests = "max-auth-requests"

	// PropWelcomeBanner is an optional banner text shown before
	// authentication.
	PropWelcomeBanner = "welcome-banner"

	// PropWelcomeBannerLanguage is the language tag of the welcome banner.
	PropWelcomeBannerLanguage = "welcome-banner-language"
)

// Default property values.
const (
	DefaultAuthTimeout       = 2 * time.Minute
	DefaultIdleTimeout       = 10 * time.Minute
	DefaultDisconnectTimeout = 10 * time.Second
	DefaultRekeyBytesLimit   = int64(1) << 30
	DefaultRekeyTimeLimit    = time.Hour
	DefaultMaxAuthRequests   = 20
	DefaultBannerLanguage    = "en"
)

// Manager holds the named factories for every algorithm kind, in preference
// order, plus the string-keyed configuration properties. It is the single
// lookup point the session core uses during negotiation and key install.
type Manager struct {
	kexFactories         []Named[KeyExchange]
	cipherFactories      []Named[Cipher]
	macFactories         []Named[Mac]
	compressionFactories []Named[Compression]
	digestFactories      []Named[Digest]
	randomFactory        Named[Random]
	signatureAlgorithms  []string
	properties           map[string]string
}

// Option customizes a Manager during construction.
type Option func(*Manager)

// WithKeyExchanges registers the key exchange factories in preference
// order. The mathematics are supplied by the embedder; the transport ships
// none of its own.
func WithKeyExchanges(factories ...Named[KeyExchange]) Option {
	return func(m *Manager) {
		m.kexFactories = factories
	}
}

// WithCiphers replaces the built-in cipher factories.
func WithCiphers(factories ...Named[Cipher]) Option {
	return func(m *Manager) {
		m.cipherFactories = factories
	}
}

// WithMacs replaces the built-in MAC factories.
func WithMacs(factories ...Named[Mac]) Option {
	return func(m *Manager) {
		m.macFactories = factories
	}
}

// WithCompressions replaces the built-in compression factories.
func WithCompressions(factories ...Named[Compression]) Option {
	return func(m *Manager) {
		m.compressionFactories = factories
	}
}

// WithSignatureAlgorithms sets the host key algorithm names offered in the
// server-host-key slot, in preference order.
func WithSignatureAlgorithms(names ...string) Option {
	return func(m *Manager) {
		m.signatureAlgorithms = names
	}
}

// WithRandom replaces the PRNG factory.
func WithRandom(f Named[Random]) Option {
	return func(m *Manager) {
		m.randomFactory = f
	}
}

// WithProperty sets one configuration property.
func WithProperty(key, value string) Option {
	return func(m *Manager) {
		m.properties[key] = value
	}
}

// NewManager creates a Manager with the built-in cipher, MAC, compression,
// digest and PRNG factories registered, then applies the options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cipherFactories:      BuiltinCiphers(),
		macFactories:         BuiltinMacs(),
		compressionFactories: BuiltinCompressions(),
		digestFactories:      BuiltinDigests(),
		randomFactory:        CryptoRandomFactory(),
		properties:           make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// KeyExchangeFactories returns the registered key exchange factories.
func (m *Manager) KeyExchangeFactories() []Named[KeyExchange] {
	return m.kexFactories
}

// CipherFactories returns the registered cipher factories.
func (m *Manager) CipherFactories() []Named[Cipher] {
	return m.cipherFactories
}

// MacFactories returns the registered MAC factories.
func (m *Manager) MacFactories() []Named[Mac] {
	return m.macFactories
}

// CompressionFactories returns the registered compression factories.
func (m *Manager) CompressionFactories() []Named[Compression] {
	return m.compressionFactories
}

// DigestFactories returns the registered digest factories.
func (m *Manager) DigestFactories() []Named[Digest] {
	return m.digestFactories
}

// SignatureAlgorithms returns the host key algorithm names for the
// server-host-key slot.
func (m *Manager) SignatureAlgorithms() []string {
	return m.signatureAlgorithms
}

// NewRandom creates a PRNG instance from the registered factory.
func (m *Manager) NewRandom() Random {
	return m.randomFactory.Create()
}

// StringProperty returns a configuration property, or the default when the
// key is absent.
func (m *Manager) StringProperty(key, def string) string {
	if v, ok := m.properties[key]; ok {
		return v
	}
	return def
}

// IntProperty returns a configuration property parsed as an int, or the
// default when absent or unparseable.
func (m *Manager) IntProperty(key string, def int) int {
	v, ok := m.properties[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// LongProperty returns a configuration property parsed as an int64, or the
// default when absent or unparseable.
func (m *Manager) LongProperty(key string, def int64) int64 {
	v, ok := m.properties[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// DurationProperty interprets a millisecond-valued property as a Duration.
func (m *Manager) DurationProperty(key string, def time.Duration) time.Duration {
	ms := m.LongProperty(key, int64(def/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}
