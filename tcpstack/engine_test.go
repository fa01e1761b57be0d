package tcpstack

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soya-Onishi/toytcp-go/iptransport"
	"github.com/Soya-Onishi/toytcp-go/segment"
)

var (
	testServerIP = net.ParseIP("10.0.0.1")
	testClientIP = net.ParseIP("10.0.0.2")
)

// fastTestConfig shrinks every timer-related constant so retransmission
// and probe tests don't spend real wall-clock seconds waiting on RFC 6298
// defaults.
func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.SynRTO = 20 * time.Millisecond
	cfg.InitialRTO = 20 * time.Millisecond
	cfg.MinRTO = 10 * time.Millisecond
	cfg.TimerTick = 5 * time.Millisecond
	cfg.ProbeInterval = 20 * time.Millisecond
	cfg.MaxTransmissions = 3
	return cfg
}

func newEnginePair(t *testing.T, cfg Config) (server, client *Engine) {
	t.Helper()
	serverTransport, clientTransport := iptransport.NewMemoryPair()

	server = New(serverTransport, WithConfig(cfg), WithLogger(testLogger()))
	client = New(clientTransport, WithConfig(cfg), WithLogger(testLogger()),
		WithRouteLookup(func(remote net.IP) (net.IP, error) { return testClientIP, nil }))

	t.Cleanup(func() {
		server.Shutdown()
		client.Shutdown()
	})
	return server, client
}

func TestHandshakeEstablishesConnection(t *testing.T) {
	server, client := newEnginePair(t, fastTestConfig())

	listener, err := server.Listen(testServerIP, 9000)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	type acceptResult struct {
		id  ConnID
		err error
	}
	acceptc := make(chan acceptResult, 1)
	go func() {
		id, err := server.Accept(listener)
		acceptc <- acceptResult{id, err}
	}()

	clientConn, err := client.Connect(testServerIP, 9000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case r := <-acceptc:
		if r.err != nil {
			t.Fatalf("Accept: %v", r.err)
		}
		server.mu.Lock()
		s := server.sockets[r.id]
		server.mu.Unlock()
		if s.status != StatusEstablished {
			t.Errorf("server socket status = %v, want Established", s.status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}

	client.mu.Lock()
	cs := client.sockets[clientConn]
	client.mu.Unlock()
	if cs.status != StatusEstablished {
		t.Errorf("client socket status = %v, want Established", cs.status)
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	cfg := fastTestConfig()
	server, client := newEnginePair(t, cfg)

	listener, _ := server.Listen(testServerIP, 9001)
	acceptc := make(chan ConnID, 1)
	go func() {
		id, err := server.Accept(listener)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		acceptc <- id
	}()

	clientConn, err := client.Connect(testServerIP, 9001)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	serverConn := <-acceptc

	payload := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := client.Send(clientConn, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, len(payload))
	got := 0
	deadline := time.After(2 * time.Second)
	for got < len(payload) {
		select {
		case <-deadline:
			t.Fatalf("timed out after reading %d/%d bytes", got, len(payload))
		default:
		}
		n, err := server.Recv(serverConn, buf[got:])
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got += n
	}
	if string(buf) != string(payload) {
		t.Errorf("received %q, want %q", buf, payload)
	}
}

func TestHalfClose(t *testing.T) {
	cfg := fastTestConfig()
	server, client := newEnginePair(t, cfg)

	listener, _ := server.Listen(testServerIP, 9002)
	acceptc := make(chan ConnID, 1)
	go func() {
		id, _ := server.Accept(listener)
		acceptc <- id
	}()

	clientConn, err := client.Connect(testServerIP, 9002)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	serverConn := <-acceptc

	if err := client.Close(clientConn); err != nil {
		t.Fatalf("client Close: %v", err)
	}

	buf := make([]byte, 16)
	_, err = server.Recv(serverConn, buf)
	if err != io.EOF {
		t.Fatalf("server Recv after peer FIN = %v, want io.EOF", err)
	}

	if err := server.Close(serverConn); err != nil {
		t.Fatalf("server Close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		server.mu.Lock()
		_, stillThere := server.sockets[serverConn]
		server.mu.Unlock()
		if !stillThere {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server socket was never retired after full close")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// dropFirstData wraps a Transport and silently drops exactly one write
// carrying a payload, then passes everything through normally. Used to pin
// spec §8 scenario 5 ("Retransmit"): a dropped data segment reappears,
// unchanged, once the retransmission timer fires.
type dropFirstData struct {
	iptransport.Transport
	mu      sync.Mutex
	dropped bool
}

func (d *dropFirstData) WriteSegment(localIP, remoteIP net.IP, seg []byte) error {
	d.mu.Lock()
	if !d.dropped && len(seg) > segment.HeaderSize {
		d.dropped = true
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.Transport.WriteSegment(localIP, remoteIP, seg)
}

func TestDataSegmentIsRetransmittedAfterLoss(t *testing.T) {
	cfg := fastTestConfig()
	serverTransport, clientTransport := iptransport.NewMemoryPair()

	server := New(serverTransport, WithConfig(cfg), WithLogger(testLogger()))
	client := New(&dropFirstData{Transport: clientTransport}, WithConfig(cfg), WithLogger(testLogger()),
		WithRouteLookup(func(remote net.IP) (net.IP, error) { return testClientIP, nil }))
	t.Cleanup(func() {
		server.Shutdown()
		client.Shutdown()
	})

	listener, _ := server.Listen(testServerIP, 9003)
	acceptc := make(chan ConnID, 1)
	go func() {
		id, _ := server.Accept(listener)
		acceptc <- id
	}()

	clientConn, err := client.Connect(testServerIP, 9003)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	serverConn := <-acceptc

	payload := []byte("this segment gets dropped once")
	if _, err := client.Send(clientConn, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, len(payload))
	got := 0
	deadline := time.After(2 * time.Second)
	for got < len(payload) {
		select {
		case <-deadline:
			t.Fatalf("timed out after reading %d/%d bytes; retransmit never recovered the dropped segment", got, len(payload))
		default:
		}
		n, err := server.Recv(serverConn, buf[got:])
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got += n
	}
	if string(buf) != string(payload) {
		t.Errorf("received %q, want %q", buf, payload)
	}
}
