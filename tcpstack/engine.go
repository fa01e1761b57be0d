package tcpstack

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soya-Onishi/toytcp-go/internal/route"
	"github.com/Soya-Onishi/toytcp-go/iptransport"
)

// Engine is the whole running TCP stack: one socket table, one packet
// transport, one event bus, and the two background workers (packet reader,
// 100ms timer) that drive it (spec §2, §4.2).
//
// The table lock (mu) is a sync.RWMutex used exclusively as a plain
// mutex: every path that touches the socket table mutates it (inserting,
// removing, or advancing sequence numbers), so there is no read-only
// fast path worth a separate RLock (spec §4.2 "simplicity over
// scalability"). The same lock backs the event condition variable, which
// is what makes wait/recheck race-free: Cond.Wait atomically releases the
// lock a waiter is already holding and reacquires it before returning, so
// there is no gap between "check the table" and "start waiting" in which
// a wakeup could be missed. Spec §9 models the event bus as a separate
// single-slot mailbox guarded by its own lock; collapsing it onto the
// table lock is the "cleaner redesign" the spec invites for this area,
// and removes a lost-wakeup hazard the two-lock version has whenever (as
// here) the real blocking predicate lives in the table rather than in the
// event payload itself (see DESIGN.md).
type Engine struct {
	cfg       Config
	transport iptransport.Transport
	routeTo   route.Lookup
	log       *logrus.Logger

	mu   sync.RWMutex
	cond *sync.Cond

	sockets map[ConnID]*Socket
	rng     *rand.Rand

	stopReader chan struct{}
	stopTimer  chan struct{}
	wg         sync.WaitGroup
}

type eventKind int

const (
	evConnectionCompleted eventKind = iota
	evConnectionFailed
	evAcked
	evDataArrived
	evConnectionClosed
)

func (k eventKind) String() string {
	switch k {
	case evConnectionCompleted:
		return "connection-completed"
	case evConnectionFailed:
		return "connection-failed"
	case evAcked:
		return "acked"
	case evDataArrived:
		return "data-arrived"
	case evConnectionClosed:
		return "connection-closed"
	default:
		return "unknown"
	}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithConfig overrides the default constants (spec §6). Primarily for
// tests that want a faster timer tick or a narrower port range.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRouteLookup overrides how Connect resolves the local source address
// for a destination (default: internal/route.To, which shells out to `ip
// route get`). Tests substitute a fixed lookup.
func WithRouteLookup(lookup route.Lookup) Option {
	return func(e *Engine) { e.routeTo = lookup }
}

// New starts an Engine bound to transport: the two background workers
// (packet reader, timer) are spawned immediately and run until Shutdown.
func New(transport iptransport.Transport, opts ...Option) *Engine {
	e := &Engine{
		cfg:        DefaultConfig(),
		transport:  transport,
		routeTo:    route.To,
		log:        defaultLogger(),
		sockets:    make(map[ConnID]*Socket),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		stopReader: make(chan struct{}),
		stopTimer:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cond = sync.NewCond(&e.mu)

	e.wg.Add(2)
	go e.readerLoop()
	go e.timerLoop()

	return e
}

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Shutdown stops the background workers and releases the transport.
// Sockets still open are abandoned, not gracefully torn down: callers
// that care about a clean shutdown should Close their connections first.
func (e *Engine) Shutdown() error {
	close(e.stopReader)
	close(e.stopTimer)
	err := e.transport.Close()
	e.wg.Wait()

	e.mu.Lock()
	e.sockets = make(map[ConnID]*Socket)
	e.cond.Broadcast()
	e.mu.Unlock()

	return err
}

// publish wakes every blocked waiter so it can re-check its own predicate
// against the socket table (see the Engine doc comment for why that, and
// not matching on id/kind here, is what makes this race-free). id and
// kind are carried only for the debug log line: callers name the (spec
// §4.2) single-slot bus's conceptual event even though this
// implementation does not literally store it in a slot. Callers must
// already hold e.mu.
func (e *Engine) publish(id ConnID, kind eventKind) {
	e.log.WithFields(map[string]interface{}{"conn": id.String(), "event": kind.String()}).Trace("event published")
	e.cond.Broadcast()
}

// lookup finds the socket for a fully-specified 4-tuple, falling back to
// the listening socket for that local endpoint (spec §3). Caller must
// hold e.mu.
func (e *Engine) lookup(id ConnID) (*Socket, bool) {
	if s, ok := e.sockets[id]; ok {
		return s, true
	}
	if s, ok := e.sockets[listenerID(id.LocalIP, id.LocalPort)]; ok {
		return s, true
	}
	return nil, false
}

// selectPort picks an unused local port in [PortRangeStart, PortRangeEnd)
// for an active-open connection to remoteIP:remotePort, trying a uniform
// random start and then a bounded linear scan (spec §6; grounded on the
// original's select_unused_port). Caller must hold e.mu.
func (e *Engine) selectPort(localIP, remoteIP addr4, remotePort uint16) (uint16, error) {
	span := int(e.cfg.PortRangeEnd - e.cfg.PortRangeStart)
	if span <= 0 {
		return 0, ErrNoPortAvailable
	}
	start := e.rng.Intn(span)
	for i := 0; i < span; i++ {
		port := e.cfg.PortRangeStart + uint16((start+i)%span)
		if e.localPortInUse(port) {
			continue
		}
		return port, nil
	}
	return 0, ErrNoPortAvailable
}

// localPortInUse reports whether port is already the local port of any
// socket in the table, regardless of remote endpoint (grounded on
// original_source/src/tcp.rs's select_unused_port, which rejects a
// candidate port against every existing socket's local-port component,
// not just an exact 4-tuple match — so the same local port is never
// reused for two simultaneous connections even to different peers).
func (e *Engine) localPortInUse(port uint16) bool {
	for id := range e.sockets {
		if id.LocalPort == port {
			return true
		}
	}
	return false
}

func newISS(rng *rand.Rand) Seq {
	// spec §6: initial sequence numbers are drawn uniformly from
	// [1, 2^31).
	return Seq(1 + rng.Int31n(1<<31-1))
}

// localIPFor resolves the source address to use when dialing remote,
// via the configured route lookup.
func (e *Engine) localIPFor(remote net.IP) (net.IP, error) {
	ip, err := e.routeTo(remote)
	if err != nil {
		return nil, fmt.Errorf("tcpstack: resolve local address for %s: %w", remote, err)
	}
	return ip, nil
}
