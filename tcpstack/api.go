package tcpstack

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Soya-Onishi/toytcp-go/segment"
)

// Connect performs an active open to remoteIP:remotePort (spec §4.3,
// §4.4): it resolves a local source address via the engine's route
// lookup, claims an ephemeral local port, sends the initial SYN, and
// blocks until the handshake completes or fails. A handshake that never
// completes (the SYN's retransmissions exhausted) returns
// ErrConnectionRefused rather than blocking forever (spec §9, Open
// Question).
func (e *Engine) Connect(remoteIP net.IP, remotePort uint16) (ConnID, error) {
	localIP, err := e.localIPFor(remoteIP)
	if err != nil {
		return ConnID{}, err
	}
	localAddr, remoteAddr := toAddr4(localIP), toAddr4(remoteIP)

	e.mu.Lock()

	port, err := e.selectPort(localAddr, remoteAddr, remotePort)
	if err != nil {
		e.mu.Unlock()
		return ConnID{}, err
	}

	id := ConnID{LocalIP: localAddr, RemoteIP: remoteAddr, LocalPort: port, RemotePort: remotePort}
	s := &Socket{id: id, status: StatusSynSent, recv: newRecvBlock(e.cfg)}
	s.send.iss = newISS(e.rng)
	s.send.una = s.send.iss
	s.send.next = s.send.iss
	s.send.estimator = newRTOEstimator(e.cfg)
	e.sockets[id] = s

	if err := e.transmit(s, segment.FlagSYN, s.send.iss, nil); err != nil {
		delete(e.sockets, id)
		e.mu.Unlock()
		return ConnID{}, err
	}

	for {
		cur, ok := e.sockets[id]
		if !ok {
			e.mu.Unlock()
			return ConnID{}, ErrConnectionRefused
		}
		if cur.status == StatusEstablished {
			e.mu.Unlock()
			return id, nil
		}
		if cur.terminalErr != nil {
			err := fmt.Errorf("%w: %w", ErrConnectionRefused, cur.terminalErr)
			delete(e.sockets, id)
			e.mu.Unlock()
			return ConnID{}, err
		}
		e.cond.Wait()
	}
}

// Listen opens a passive socket on localIP:localPort (spec §4.3). It does
// not block; use Accept to retrieve completed connections from its
// backlog.
func (e *Engine) Listen(localIP net.IP, localPort uint16) (ConnID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := listenerID(toAddr4(localIP), localPort)
	if _, exists := e.sockets[id]; exists {
		return ConnID{}, ErrUnknownConnection
	}
	e.sockets[id] = &Socket{id: id, status: StatusListen, recv: newRecvBlock(e.cfg)}
	return id, nil
}

// Accept blocks until a connection on listenID's backlog has completed
// its handshake, then returns its ConnID (spec §4.3).
func (e *Engine) Accept(listenID ConnID) (ConnID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		ls, ok := e.sockets[listenID]
		if !ok {
			return ConnID{}, ErrUnknownConnection
		}
		if ls.status != StatusListen {
			return ConnID{}, ErrNotListening
		}
		if len(ls.listenBacklog) > 0 {
			child := ls.listenBacklog[0]
			ls.listenBacklog = ls.listenBacklog[1:]
			return child, nil
		}
		e.cond.Wait()
	}
}

// sendableErr reports whether id's socket may still accept new data to
// send: ESTABLISHED, or CLOSE_WAIT (the peer closed, but our side of the
// half-close can still write).
func sendableErr(s *Socket) error {
	switch s.status {
	case StatusEstablished, StatusCloseWait:
		return nil
	default:
		return ErrClosed
	}
}

// Send queues data for transmission and blocks, releasing the table lock
// between attempts (spec §4.2's "voluntary release" pattern) so the
// packet-reader and timer workers can make progress, until every byte has
// gone out or the connection fails.
func (e *Engine) Send(id ConnID, data []byte) (int, error) {
	e.mu.Lock()
	s, ok := e.sockets[id]
	if !ok {
		e.mu.Unlock()
		return 0, ErrUnknownConnection
	}
	if err := sendableErr(s); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	total := len(data)
	s.send.pending = append(s.send.pending, data...)
	if err := e.drainPending(s); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	for {
		e.mu.Lock()
		s, ok = e.sockets[id]
		if !ok {
			e.mu.Unlock()
			return total, ErrUnknownConnection
		}
		if s.terminalErr != nil {
			err := s.terminalErr
			sent := total - len(s.send.pending)
			delete(e.sockets, id)
			e.mu.Unlock()
			return sent, err
		}
		if len(s.send.pending) == 0 {
			e.mu.Unlock()
			return total, nil
		}
		e.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// Recv blocks until data is available, the peer has sent FIN (io.EOF,
// once every byte ahead of it has been delivered), or the connection
// fails (spec §4.3, §5).
func (e *Engine) Recv(id ConnID, buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		s, ok := e.sockets[id]
		if !ok {
			return 0, ErrUnknownConnection
		}
		if s.terminalErr != nil {
			err := s.terminalErr
			delete(e.sockets, id)
			return 0, err
		}
		if s.recv.occupied > 0 {
			return drainRecv(s, buf), nil
		}
		if s.recv.finSeen {
			return 0, io.EOF
		}
		e.cond.Wait()
	}
}

// Close half-closes or fully closes id's connection, depending on its
// current status (spec §4.4): ESTABLISHED sends FIN and moves to
// FIN_WAIT_1; CLOSE_WAIT (the peer already closed) sends FIN and moves to
// LAST_ACK. Either way, Close blocks until the peer's final ACK retires
// the connection from the table.
func (e *Engine) Close(id ConnID) error {
	e.mu.Lock()

	s, ok := e.sockets[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownConnection
	}

	switch s.status {
	case StatusEstablished:
		s.send.finSeq = s.send.next
		s.send.finQueued = true
		if err := e.transmit(s, segment.FlagFIN, s.send.next, nil); err != nil {
			e.mu.Unlock()
			return err
		}
		s.status = StatusFinWait1
	case StatusCloseWait:
		s.send.finSeq = s.send.next
		s.send.finQueued = true
		if err := e.transmit(s, segment.FlagFIN, s.send.next, nil); err != nil {
			e.mu.Unlock()
			return err
		}
		s.status = StatusLastAck
	default:
		// Never established, or already tearing down: nothing to
		// negotiate, just drop it.
		delete(e.sockets, id)
		e.mu.Unlock()
		return nil
	}
	s.closeRequested = true

	for {
		cur, ok := e.sockets[id]
		if !ok {
			e.mu.Unlock()
			return nil
		}
		if cur.terminalErr != nil {
			err := cur.terminalErr
			delete(e.sockets, id)
			e.mu.Unlock()
			return err
		}
		e.cond.Wait()
	}
}
