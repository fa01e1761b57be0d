package tcpstack

import (
	"net"

	"github.com/Soya-Onishi/toytcp-go/metrics"
	"github.com/Soya-Onishi/toytcp-go/segment"
)

// dispatch routes a decoded, checksum-valid segment to the handler for its
// socket's current status (spec §4.4's transition table). Caller must
// hold e.mu.
func (e *Engine) dispatch(s *Socket, seg *segment.Segment) {
	switch s.status {
	case StatusListen:
		e.log.WithFields(logFields(s)).Debug("listening socket reached dispatch; should have been handled by handleIncomingSyn")
	case StatusSynSent:
		e.synSentHandler(s, seg)
	case StatusSynRcvd:
		e.synRcvdHandler(s, seg)
	case StatusEstablished:
		e.establishedHandler(s, seg)
	case StatusFinWait1:
		e.finWait1Handler(s, seg)
	case StatusFinWait2:
		e.finWait2Handler(s, seg)
	case StatusCloseWait:
		e.establishedHandler(s, seg) // half-closed: still accepts acks for our outbound data
	case StatusLastAck:
		e.lastAckHandler(s, seg)
	default:
		e.log.WithFields(logFields(s)).Debug("segment for socket in unhandled status, dropped")
	}
}

func logFields(s *Socket) map[string]interface{} {
	return map[string]interface{}{"conn": s.id.String(), "status": s.status.String()}
}

// handleIncomingSyn implements passive open: a SYN aimed at a listening
// socket spawns a new child socket in SYN_RCVD and replies with SYN|ACK
// (spec §4.3, §4.4). Called directly from readerLoop, which is what has
// the peer's real IP address on hand.
func (e *Engine) handleIncomingSyn(listener *Socket, seg *segment.Segment, peerIP, localIP net.IP) {
	if !seg.Flags().Has(segment.FlagSYN) {
		return
	}
	id := ConnID{
		LocalIP:    toAddr4(localIP),
		RemoteIP:   toAddr4(peerIP),
		LocalPort:  seg.DstPort(),
		RemotePort: seg.SrcPort(),
	}
	if _, exists := e.sockets[id]; exists {
		return // retransmitted SYN for a handshake already in flight
	}

	child := &Socket{
		id:       id,
		status:   StatusSynRcvd,
		recv:     newRecvBlock(e.cfg),
		listener: &listener.id,
	}
	child.recv.irs = Seq(seg.Seq())
	child.recv.next = child.recv.irs.Add(1)
	child.recv.tail = child.recv.next

	child.send.iss = newISS(e.rng)
	child.send.una = child.send.iss
	child.send.next = child.send.iss
	child.send.window = seg.Window()
	child.send.estimator = newRTOEstimator(e.cfg)

	e.sockets[id] = child
	e.transmit(child, segment.FlagSYN|segment.FlagACK, child.send.iss, nil)
}

// synSentHandler completes an active open on SYN|ACK (spec §4.4).
func (e *Engine) synSentHandler(s *Socket, seg *segment.Segment) {
	flags := seg.Flags()
	if flags.Has(segment.FlagRST) {
		delete(e.sockets, s.id)
		e.publish(s.id, evConnectionFailed)
		return
	}
	if !flags.Has(segment.FlagSYN) {
		return
	}

	s.recv.irs = Seq(seg.Seq())
	s.recv.next = s.recv.irs.Add(1)
	s.recv.tail = s.recv.next

	if flags.Has(segment.FlagACK) {
		ack := Seq(seg.Ack())
		if ack == s.send.next {
			s.send.una = ack
			s.send.window = seg.Window()
			s.status = StatusEstablished
			e.transmit(s, segment.Flags(0), s.send.next, nil) // final ACK of the handshake
			metrics.HandshakesCompleted.Inc()
			e.publish(s.id, evConnectionCompleted)
		}
	}
}

// synRcvdHandler waits for the final ACK of the three-way handshake
// (spec §4.4). On that ACK, recv.next is set to the packet's own sequence
// number rather than seq+len(payload): a deliberate faithful-to-the-toy-
// original quirk (DESIGN.md, Open Question decision) that silently drops
// any payload piggybacked on this particular packet. In the overwhelming
// majority of handshakes the ACK carries no data and seq already equals
// IRS+1, so the two formulas coincide.
func (e *Engine) synRcvdHandler(s *Socket, seg *segment.Segment) {
	flags := seg.Flags()
	if flags.Has(segment.FlagRST) {
		delete(e.sockets, s.id)
		return
	}
	if !flags.Has(segment.FlagACK) {
		return
	}
	ack := Seq(seg.Ack())
	if ack != s.send.next {
		return
	}

	s.send.una = ack
	s.send.window = seg.Window()
	s.recv.next = Seq(seg.Seq())
	s.recv.tail = s.recv.next
	s.status = StatusEstablished

	if s.listener != nil {
		if ls, ok := e.sockets[*s.listener]; ok {
			ls.listenBacklog = append(ls.listenBacklog, s.id)
			e.publish(*s.listener, evConnectionCompleted)
		}
	}
	metrics.HandshakesCompleted.Inc()
	e.publish(s.id, evConnectionCompleted)
}

// establishedHandler processes data and FIN for ESTABLISHED and
// CLOSE_WAIT sockets (spec §4.4, §5).
func (e *Engine) establishedHandler(s *Socket, seg *segment.Segment) {
	flags := seg.Flags()
	if flags.Has(segment.FlagRST) {
		e.failConnection(s.id, s, ErrConnectionReset)
		return
	}

	if flags.Has(segment.FlagACK) {
		e.retireAcked(s, Seq(seg.Ack()))
		s.send.window = seg.Window()
	}

	wrote, delivered := 0, 0
	if len(seg.Payload()) > 0 {
		wrote, delivered = e.acceptData(s, Seq(seg.Seq()), seg.Payload())
	}

	finConsumed := false
	if flags.Has(segment.FlagFIN) && Seq(seg.Seq()).Add(uint32(len(seg.Payload()))) == s.recv.next {
		s.recv.next = s.recv.next.Add(1)
		s.recv.finSeen = true
		finConsumed = true
		if s.status == StatusEstablished {
			s.status = StatusCloseWait
		}
	}

	if delivered > 0 || finConsumed {
		e.transmit(s, segment.Flags(0), s.send.next, nil)
		e.publish(s.id, evDataArrived)
	} else if wrote > 0 {
		// Out-of-order but within the buffer: still owe the peer a
		// duplicate ACK carrying the unchanged RCV.NXT (spec §4.4
		// reassembly step 5).
		e.transmit(s, segment.Flags(0), s.send.next, nil)
	} else if flags.Has(segment.FlagACK) {
		e.publish(s.id, evAcked)
	}

	if err := e.drainPending(s); err != nil {
		e.log.WithFields(logFields(s)).WithError(err).Warn("drainPending failed")
	}
}

// finWait1Handler waits for our outstanding FIN to be acked (spec §4.4).
func (e *Engine) finWait1Handler(s *Socket, seg *segment.Segment) {
	flags := seg.Flags()
	if flags.Has(segment.FlagACK) {
		e.retireAcked(s, Seq(seg.Ack()))
		s.send.window = seg.Window()
		if s.send.una.GreaterThan(s.send.finSeq) {
			s.status = StatusFinWait2
		}
	}
	if len(seg.Payload()) > 0 {
		if wrote, delivered := e.acceptData(s, Seq(seg.Seq()), seg.Payload()); delivered > 0 {
			e.transmit(s, segment.Flags(0), s.send.next, nil)
			e.publish(s.id, evDataArrived)
		} else if wrote > 0 {
			e.transmit(s, segment.Flags(0), s.send.next, nil)
		}
	}
	if flags.Has(segment.FlagFIN) && Seq(seg.Seq()).Add(uint32(len(seg.Payload()))) == s.recv.next {
		s.recv.next = s.recv.next.Add(1)
		s.recv.finSeen = true
		e.transmit(s, segment.Flags(0), s.send.next, nil)
		e.publish(s.id, evDataArrived)
	}
}

// finWait2Handler waits for the peer's FIN (spec §4.4). Since CLOSING and
// TIME_WAIT are unreachable in this engine (spec §9, simultaneous close
// out of scope), the peer's FIN here closes the connection outright
// instead of entering TIME_WAIT.
func (e *Engine) finWait2Handler(s *Socket, seg *segment.Segment) {
	flags := seg.Flags()
	if len(seg.Payload()) > 0 {
		e.acceptData(s, Seq(seg.Seq()), seg.Payload())
	}
	if flags.Has(segment.FlagFIN) && Seq(seg.Seq()).Add(uint32(len(seg.Payload()))) == s.recv.next {
		s.recv.next = s.recv.next.Add(1)
		s.recv.finSeen = true
		e.transmit(s, segment.Flags(0), s.send.next, nil)
		delete(e.sockets, s.id)
		metrics.ConnectionsClosed.Inc()
		e.publish(s.id, evConnectionClosed)
	}
}

// lastAckHandler waits for the ack of our FIN sent from CLOSE_WAIT
// (spec §4.4).
func (e *Engine) lastAckHandler(s *Socket, seg *segment.Segment) {
	if !seg.Flags().Has(segment.FlagACK) {
		return
	}
	ack := Seq(seg.Ack())
	e.retireAcked(s, ack)
	if ack.GreaterThan(s.send.finSeq) {
		delete(e.sockets, s.id)
		metrics.ConnectionsClosed.Inc()
		e.publish(s.id, evConnectionClosed)
	}
}
