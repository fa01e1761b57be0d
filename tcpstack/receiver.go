package tcpstack

// acceptData folds an incoming data segment into the reassembly buffer
// (spec §4.4 "Reassembly", steps 1-5). The buffer is addressed relative to
// RCV.NXT: offset = (buffer-size - RCV.WIN) + (seq - RCV.NXT), so a segment
// that arrives ahead of RCV.NXT (a gap not yet filled) still lands at its
// correct position and is delivered once the gap closes, instead of being
// discarded — this is what makes out-of-order arrival (spec §8, B4) work
// without a separate out-of-order queue.
//
// Segments at seq < RCV.NXT are old duplicates and dropped outright:
// computing seq - recv.next first would underflow (spec §9, Open Question,
// decision recorded in DESIGN.md). Segments landing beyond the buffer's
// capacity are silently dropped (spec §3 "bytes beyond the buffer are
// dropped; no advertisement is given for them").
//
// wrote is the number of payload bytes actually written into the buffer
// (used by the caller to decide whether a duplicate ACK is owed even when
// nothing became deliverable); delivered is the number of bytes that
// advanced RCV.NXT (used to decide whether to publish DataArrived).
func (e *Engine) acceptData(s *Socket, seq Seq, payload []byte) (wrote, delivered int) {
	if len(payload) == 0 {
		return 0, 0
	}
	if seq.LessThan(s.recv.next) {
		return 0, 0
	}

	bufSize := uint32(len(s.recv.buf))
	o := bufSize - uint32(s.recv.window) + uint32(seq-s.recv.next)
	if o >= bufSize {
		return 0, 0
	}

	n := len(payload)
	if room := int(bufSize - o); n > room {
		n = room
	}
	if n == 0 {
		return 0, 0
	}

	copy(s.recv.buf[o:o+uint32(n)], payload[:n])

	newTail := seq.Add(uint32(n))
	if s.recv.tail.LessThan(newTail) {
		s.recv.tail = newTail
	}

	if seq == s.recv.next {
		delivered = int(uint32(s.recv.tail - seq))
		s.recv.next = s.recv.tail
		s.recv.window -= uint16(delivered)
		s.recv.occupied += delivered
	}
	return n, delivered
}

// drainRecv copies up to len(dst) bytes of already-delivered data out of
// s's reassembly buffer and compacts the remainder (delivered bytes still
// unread, plus any reserved-but-unfilled and out-of-order backlog beyond
// them) to the front, reopening window by the amount consumed (spec §5:
// "buffer is shifted left by k and recv.window is increased by k").
//
// The shift must cover more than just the delivered prefix: a pending
// out-of-order segment already written ahead of RCV.NXT lives immediately
// after it, at an offset computed relative to the current window, so it
// has to move in lockstep or the next acceptData call would address it
// incorrectly.
func drainRecv(s *Socket, dst []byte) int {
	n := len(dst)
	if n > s.recv.occupied {
		n = s.recv.occupied
	}
	if n == 0 {
		return 0
	}
	copy(dst, s.recv.buf[:n])

	used := len(s.recv.buf) - int(s.recv.window)
	if s.recv.tail.GreaterThan(s.recv.next) {
		used += int(uint32(s.recv.tail - s.recv.next))
	}
	if used > len(s.recv.buf) {
		used = len(s.recv.buf)
	}
	copy(s.recv.buf, s.recv.buf[n:used])

	s.recv.occupied -= n
	s.recv.window += uint16(n)
	return n
}
