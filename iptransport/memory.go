package iptransport

import (
	"errors"
	"net"
	"sync"
)

// ErrClosed is returned by a Memory transport's ReadSegment/WriteSegment
// once Close has been called.
var ErrClosed = errors.New("iptransport: transport closed")

type memorySegment struct {
	srcIP, dstIP net.IP
	seg          []byte
}

// Memory is an in-process Transport that delivers whatever is written to it
// straight to a peer Memory's read queue, with no real network involved.
// It exists so tcpstack's engine can be exercised end-to-end in tests
// without a privileged raw socket. Two Memory values wired together with
// NewMemoryPair behave like a perfectly lossless wire; wrap one in a Lossy
// to simulate reordering, duplication and drops (spec §8, R2).
type Memory struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []memorySegment
	closed bool
	peer   *Memory
}

// NewMemoryPair returns two Transports, each of which delivers writes to
// the other's read queue.
func NewMemoryPair() (a, b *Memory) {
	a = newMemory()
	b = newMemory()
	a.peer = b
	b.peer = a
	return a, b
}

func newMemory() *Memory {
	m := &Memory{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Memory) WriteSegment(localIP, remoteIP net.IP, seg []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if m.peer == nil {
		return errors.New("iptransport: memory transport has no peer")
	}

	cp := make([]byte, len(seg))
	copy(cp, seg)

	m.peer.mu.Lock()
	defer m.peer.mu.Unlock()
	if m.peer.closed {
		return ErrClosed
	}
	m.peer.queue = append(m.peer.queue, memorySegment{srcIP: localIP, dstIP: remoteIP, seg: cp})
	m.peer.cond.Signal()
	return nil
}

func (m *Memory) ReadSegment() (srcIP, dstIP net.IP, seg []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed && len(m.queue) == 0 {
		return nil, nil, nil, ErrClosed
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	return next.srcIP, next.dstIP, next.seg, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
	return nil
}
