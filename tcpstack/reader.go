package tcpstack

import (
	"net"

	"github.com/Soya-Onishi/toytcp-go/metrics"
	"github.com/Soya-Onishi/toytcp-go/segment"
)

// readerLoop is the packet-reader worker: it owns the transport's read
// side exclusively, decodes every inbound segment, and dispatches it
// under the table lock (spec §4.2). It is one of the two long-lived
// goroutines an Engine starts in New.
func (e *Engine) readerLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopReader:
			return
		default:
		}

		srcIP, dstIP, raw, err := e.transport.ReadSegment()
		if err != nil {
			select {
			case <-e.stopReader:
				return
			default:
			}
			e.log.WithError(err).Debug("transport read failed")
			continue
		}
		if raw == nil {
			continue // non-TCP packet, filtered by the transport
		}

		seg, err := segment.Decode(raw)
		if err != nil {
			e.log.WithError(err).Debug("failed to decode segment")
			continue
		}
		if !seg.VerifyChecksum(srcIP, dstIP) {
			e.log.Debug("segment failed checksum, dropped")
			continue
		}
		metrics.SegmentsReceived.Inc()

		e.handleInbound(srcIP, dstIP, seg)
	}
}

func (e *Engine) handleInbound(srcIP, dstIP net.IP, seg *segment.Segment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := ConnID{
		LocalIP:    toAddr4(dstIP),
		RemoteIP:   toAddr4(srcIP),
		LocalPort:  seg.DstPort(),
		RemotePort: seg.SrcPort(),
	}

	s, ok := e.lookup(id)
	if !ok {
		e.log.WithField("conn", id.String()).Debug("segment for unknown connection, dropped")
		return
	}

	if s.status == StatusListen {
		e.handleIncomingSyn(s, seg, srcIP, dstIP)
		return
	}

	e.dispatch(s, seg)
}
