package tcpstack

import (
	"time"

	"github.com/Soya-Onishi/toytcp-go/metrics"
	"github.com/Soya-Onishi/toytcp-go/segment"
)

// segSeqLen returns the number of sequence numbers a segment with the
// given flags and payload occupies: SYN and FIN each count as one byte of
// sequence space (spec §4.1, mirrored in segment.Segment.Len).
func segSeqLen(flags segment.Flags, payloadLen int) uint32 {
	n := uint32(payloadLen)
	if flags.Has(segment.FlagSYN) {
		n++
	}
	if flags.Has(segment.FlagFIN) {
		n++
	}
	return n
}

// transmit encodes and writes a segment for s, queueing it for
// retransmission if it carries SYN, FIN, or data (anything that needs an
// ACK of its own). Pure ACKs are fire-and-forget. Caller must hold e.mu.
func (e *Engine) transmit(s *Socket, flags segment.Flags, seq Seq, payload []byte) error {
	fields := segment.Fields{
		SrcPort: s.id.LocalPort,
		DstPort: s.id.RemotePort,
		Seq:     uint32(seq),
		Ack:     uint32(s.recv.next),
		Flags:   flags | segment.FlagACK,
		Window:  s.recv.window,
	}
	// SYN segments ack nothing yet.
	if flags.Has(segment.FlagSYN) && !flags.Has(segment.FlagACK) {
		fields.Flags = flags
		fields.Ack = 0
	}

	localIP, remoteIP := s.id.LocalIP.IP(), s.id.RemoteIP.IP()
	enc := segment.Encode(fields, payload, localIP, remoteIP)

	if err := e.transport.WriteSegment(localIP, remoteIP, enc.Raw()); err != nil {
		return err
	}
	metrics.SegmentsSent.Inc()

	n := segSeqLen(flags, len(payload))
	if n > 0 {
		rto := s.send.estimator.rto
		if flags.Has(segment.FlagSYN) {
			// Handshake segments use the fixed SYN timeout rather than the
			// data RTT estimator, which has no sample yet anyway (spec §6).
			rto = e.cfg.SynRTO
		}
		s.send.retransmitQueue = append(s.send.retransmitQueue, &rtqEntry{
			seg:           append([]byte(nil), enc.Raw()...),
			seq:           seq,
			expectedAck:   seq.Add(n),
			lastTransmit:  time.Now(),
			transmissions: 1,
			currentRTO:    rto,
			hasSample:     !flags.Has(segment.FlagSYN),
		})
		if seq.Add(n).GreaterThan(s.send.next) {
			s.send.next = seq.Add(n)
		}
	}
	return nil
}

// retireAcked drops every retransmission-queue entry fully covered by a
// newly received cumulative ack, feeding one RTT sample for each retired
// entry that was never retransmitted (Karn's algorithm: a segment that
// was ever retransmitted never contributes a sample, spec §6).
func (e *Engine) retireAcked(s *Socket, ack Seq) {
	i := 0
	for ; i < len(s.send.retransmitQueue); i++ {
		entry := s.send.retransmitQueue[i]
		if entry.expectedAck.GreaterThan(ack) {
			break
		}
		if entry.hasSample {
			s.send.estimator.sample(time.Since(entry.lastTransmit))
		}
	}
	s.send.retransmitQueue = s.send.retransmitQueue[i:]
	if ack.GreaterThan(s.send.una) {
		s.send.una = ack
	}
}

// drainPending splits as much of s.send.pending as the peer's advertised
// window allows into MSS-bounded segments starting at s.send.next, and
// transmits each, trimming pending as bytes go out. Caller must hold e.mu.
func (e *Engine) drainPending(s *Socket) error {
	if len(s.send.pending) == 0 {
		return nil
	}

	inFlight := uint32(s.send.next - s.send.una)
	avail := int(s.send.window) - int(inFlight)
	if avail <= 0 {
		s.send.probing = s.send.window == 0
		return nil
	}
	if avail > len(s.send.pending) {
		avail = len(s.send.pending)
	}

	sent := 0
	mss := int(e.cfg.MSS)
	for sent < avail {
		chunk := avail - sent
		if chunk > mss {
			chunk = mss
		}
		seq := s.send.next
		if err := e.transmit(s, segment.Flags(0), seq, s.send.pending[sent:sent+chunk]); err != nil {
			return err
		}
		sent += chunk
	}
	s.send.pending = s.send.pending[sent:]
	s.send.probing = false
	return nil
}

// sendProbe sends a one-byte-earlier keep-alive ACK (seq = SND.NXT - 1,
// empty payload, spec §4.5/§8 B2) to elicit a fresh window advertisement
// from a peer stalled at window 0. It does not consume any pending data or
// advance SND.NXT: the probe's sequence number deliberately points at
// already-sent data so it carries no bytes of its own and is never queued
// for retransmission (segSeqLen is 0 for a flagless, payload-less
// segment). Caller must hold e.mu.
func (e *Engine) sendProbe(s *Socket) error {
	seq := s.send.next - 1
	if err := e.transmit(s, segment.Flags(0), seq, nil); err != nil {
		return err
	}
	s.send.lastProbeSent = time.Now()
	return nil
}
