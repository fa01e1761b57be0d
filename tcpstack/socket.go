package tcpstack

import "time"

// rtoEstimator implements the Jacobson/Karels RTO estimator (RFC 6298,
// spec §6): srtt and rttvar are updated with gains alpha=1/8, beta=1/4 on
// every RTT sample, rto = srtt + 4*rttvar, clamped to [MinRTO, MaxRTO].
// Retransmission timeouts back off by doubling, also clamped.
type rtoEstimator struct {
	cfg       Config
	hasSample bool
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
}

func newRTOEstimator(cfg Config) *rtoEstimator {
	return &rtoEstimator{cfg: cfg, rto: cfg.InitialRTO}
}

// sample folds a single RTT measurement into the estimator.
func (e *rtoEstimator) sample(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	if !e.hasSample {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.hasSample = true
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = e.rttvar - e.rttvar/4 + diff/4
		e.srtt = e.srtt - e.srtt/8 + rtt/8
	}
	e.rto = e.srtt + 4*e.rttvar
	e.clamp()
}

// backoff doubles the current RTO, for a retransmission with no new
// sample (Karn's algorithm: retransmitted segments never feed a sample).
func (e *rtoEstimator) backoff() {
	e.rto *= 2
	e.clamp()
}

func (e *rtoEstimator) clamp() {
	if e.rto < e.cfg.MinRTO {
		e.rto = e.cfg.MinRTO
	}
	if e.rto > e.cfg.MaxRTO {
		e.rto = e.cfg.MaxRTO
	}
}

// rtqEntry is one outstanding segment in a connection's retransmission
// queue (spec §5, §6).
type rtqEntry struct {
	seg           []byte // fully encoded segment, ready to hand to the transport
	seq           Seq    // first sequence number occupied by this segment
	expectedAck   Seq    // seq + Len(): the ack that retires this entry
	lastTransmit  time.Time
	transmissions uint8
	currentRTO    time.Duration // this entry's own backed-off timeout; SYN-bearing entries start at Config.SynRTO rather than the shared estimator
	hasSample     bool          // true if this entry can still produce an RTT sample (Karn's algorithm)
}

// sendBlock is a connection's send-side control block (spec §3, §5).
type sendBlock struct {
	iss    Seq // initial send sequence number
	una    Seq // oldest unacknowledged sequence number
	next   Seq // next sequence number to send
	window uint16

	retransmitQueue []*rtqEntry
	estimator       *rtoEstimator

	// pending holds data handed to Send but not yet transmitted, because
	// the peer's window was exhausted. Drained opportunistically by
	// drainPending; while the window is stuck at zero the timer worker
	// sends payload-less probes and leaves pending untouched (spec §5,
	// zero-window probing).
	pending []byte

	finQueued bool // FIN has been sent (or is about to be); no more data follows
	finSeq    Seq  // sequence number occupied by FIN, once sent

	probing       bool // window is 0 and pending has unsent bytes: we are probing
	lastProbeSent time.Time
}

// recvBlock is a connection's receive-side control block plus its
// reassembly buffer (spec §3, §5).
type recvBlock struct {
	irs    Seq // initial receive sequence number
	next   Seq // next in-order sequence number expected
	window uint16
	tail   Seq // highest sequence number so far deposited into buf (RCV.TAIL, spec §3)

	buf      []byte // fixed-size reassembly buffer, Config.BufferSize long
	occupied int     // bytes of buf currently holding in-order, unread data

	finSeen bool // peer's FIN has been received and consumed in order
}

func newRecvBlock(cfg Config) recvBlock {
	return recvBlock{buf: make([]byte, cfg.BufferSize), window: cfg.BufferSize}
}

// Socket is one connection's full state: identity, status, and both
// control blocks. The engine's table lock guards every field; Socket
// itself holds no lock (spec §4.2: "a single coarse lock over simplicity").
type Socket struct {
	id     ConnID
	status Status

	send sendBlock
	recv recvBlock

	// listenBacklog holds completed child connections awaiting Accept,
	// valid only when status == StatusListen.
	listenBacklog []ConnID

	// listener, for a child of a passive-open socket, names the ConnID of
	// the listening socket it was accepted from (spec §4.3).
	listener *ConnID

	closeRequested bool // local Close() has been called; Recv does not consult it and keeps delivering data

	// terminalErr, once set by the timer worker (retransmission limit
	// exceeded) or a handler (peer RST), is returned by the next blocked
	// caller to notice it; that caller is also responsible for removing
	// the socket from the table (spec §9, Open Question: surface
	// handshake/retransmission failure as an error rather than hang).
	terminalErr error
}
