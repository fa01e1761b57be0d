package tcpstack

import (
	"fmt"
	"time"

	"github.com/Soya-Onishi/toytcp-go/metrics"
	"github.com/Soya-Onishi/toytcp-go/segment"
)

// timerLoop is the timer worker: every Config.TimerTick (100ms) it sweeps
// the socket table for retransmissions due and zero-window probes due
// (spec §4.2, §5, §6). It is the other of the two long-lived goroutines
// an Engine starts in New.
func (e *Engine) timerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TimerTick)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopTimer:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for id, s := range e.sockets {
		e.sweepRetransmissions(id, s, now)
		e.sweepProbe(s, now)
	}
}

// sweepRetransmissions drains the current retransmission queue in order
// (spec §4.5): every entry due for resend this tick is resent, not just the
// head, and each one resent is moved to the tail of the queue (spec §3) so
// a burst of overdue segments each get their own RTO-driven resend instead
// of serializing behind the oldest entry.
func (e *Engine) sweepRetransmissions(id ConnID, s *Socket, now time.Time) {
	queue := s.send.retransmitQueue
	if len(queue) == 0 {
		return
	}

	localIP, remoteIP := s.id.LocalIP.IP(), s.id.RemoteIP.IP()
	kept := make([]*rtqEntry, 0, len(queue))
	var resent []*rtqEntry
	for _, entry := range queue {
		if now.Sub(entry.lastTransmit) < entry.currentRTO {
			kept = append(kept, entry)
			continue
		}

		if entry.transmissions >= e.cfg.MaxTransmissions {
			e.failConnection(id, s, fmt.Errorf("%w: %s", ErrRetransmissionLimit, id))
			return
		}

		if err := e.transport.WriteSegment(localIP, remoteIP, entry.seg); err != nil {
			e.log.WithFields(logFields(s)).WithError(err).Warn("retransmission write failed")
			kept = append(kept, entry)
			continue
		}

		metrics.Retransmits.Inc()
		metrics.SegmentsSent.Inc()
		entry.transmissions++
		entry.lastTransmit = now
		entry.hasSample = false
		if entry.currentRTO*2 <= e.cfg.MaxRTO {
			entry.currentRTO *= 2
		} else {
			entry.currentRTO = e.cfg.MaxRTO
		}
		if !isSynEntry(entry) {
			s.send.estimator.backoff()
		}
		resent = append(resent, entry)
	}
	s.send.retransmitQueue = append(kept, resent...)
}

func isSynEntry(entry *rtqEntry) bool {
	if len(entry.seg) < segment.HeaderSize {
		return false
	}
	flagsByte := entry.seg[13]
	return segment.Flags(flagsByte).Has(segment.FlagSYN)
}

// failConnection records a terminal error on s. A socket with no caller
// ever blocked on it directly (a half-open SYN_RCVD child before Accept)
// is removed immediately; otherwise the next blocked caller to notice
// terminalErr removes it (see Socket.terminalErr).
func (e *Engine) failConnection(id ConnID, s *Socket, err error) {
	s.terminalErr = err
	s.send.retransmitQueue = nil

	switch s.status {
	case StatusSynSent:
		e.publish(id, evConnectionFailed)
	case StatusSynRcvd:
		delete(e.sockets, id)
	default:
		metrics.ConnectionsClosed.Inc()
		e.publish(id, evConnectionClosed)
	}
}

func (e *Engine) sweepProbe(s *Socket, now time.Time) {
	if !s.send.probing || len(s.send.pending) == 0 {
		return
	}
	if now.Sub(s.send.lastProbeSent) < e.cfg.ProbeInterval {
		return
	}
	if err := e.sendProbe(s); err != nil {
		e.log.WithFields(logFields(s)).WithError(err).Warn("zero-window probe failed")
	}
}
