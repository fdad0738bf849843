package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/session"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
)

// stubKex satisfies the key exchange capability for tests that never run an
// exchange; the server only needs its name for the proposal.
type stubKex struct{}

func (stubKex) Name() string                                       { return "stub-kex" }
func (stubKex) Init(factory.PacketConn, factory.KexInfo) error     { return nil }
func (stubKex) Next(*sshbuf.Buffer) (bool, error)                  { return false, nil }
func (stubKex) K() []byte                                          { return nil }
func (stubKex) H() []byte                                          { return nil }
func (stubKex) Hash() factory.Digest                               { return factory.NewSHA256() }

func testServerManager() *factory.Manager {
	return factory.NewManager(
		factory.WithKeyExchanges(factory.Named[factory.KeyExchange]{
			Name:   "stub-kex",
			Create: func() factory.KeyExchange { return stubKex{} },
		}),
		factory.WithSignatureAlgorithms("ssh-test"),
	)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Software = "testd_1.0"

	srv, err := NewServer(cfg, testServerManager(), session.NewRegistry(), nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, listener
}

func TestServer_SendsIdentificationOnAccept(t *testing.T) {
	_, listener := newTestServer(t)

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "SSH-2.0-testd_1.0") {
		t.Fatalf("banner = %q", line)
	}
}

func TestServer_RegistersAndUnregistersSessions(t *testing.T) {
	srv, listener := newTestServer(t)

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Registry().Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	for srv.Registry().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_CloseStopsAccepting(t *testing.T) {
	srv, listener := newTestServer(t)
	addr := listener.Addr().String()

	// Wait until Serve has taken over the listener.
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never started serving")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-srv.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed")
	}

	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Fatal("dial succeeded after Close")
	}
}

func TestConn_WriteCompletesFuture(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a, 4)
	defer c.Close()

	buf := sshbuf.Wrap([]byte("hello"))
	f := c.Write(buf)

	got := make([]byte, 5)
	b.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := b.Read(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("read %q", got)
	}

	select {
	case <-f.Done():
		if err := f.Err(); err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("write future never resolved")
	}
}

func TestConn_CloseFailsQueuedWrites(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a, 4)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	f := c.Write(sshbuf.Wrap([]byte("late")))
	select {
	case <-f.Done():
		if f.Err() == nil {
			t.Fatal("write after close succeeded")
		}
	case <-time.After(time.Second):
		t.Fatal("future never resolved")
	}
}

func TestConn_RemoteIP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConn(a, 1)
	defer c.Close()

	// net.Pipe addresses have no port; RemoteIP falls back to the full
	// address string.
	if c.RemoteIP() == "" {
		t.Fatal("empty remote IP")
	}
}
