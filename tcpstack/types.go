// Package tcpstack is the TCP engine: the per-connection state machine, the
// reliable sender (retransmission queue, RTO estimator, zero-window
// probing, MSS segmentation), the receiver (reassembly buffer, cumulative
// ACK), and the concurrency fabric (socket table, packet-reader worker,
// timer worker, event bus) that binds them together (spec §§2-5).
package tcpstack

import (
	"fmt"
	"net"
	"time"
)

// Config holds the externally observable constants from spec §6, with
// defaults matching the spec exactly. Callers of New may override any of
// them, primarily so tests can shrink timers.
type Config struct {
	MSS              uint16
	BufferSize       uint16
	PortRangeStart   uint16
	PortRangeEnd     uint16
	InitialRTO       time.Duration
	MinRTO           time.Duration
	MaxRTO           time.Duration
	SynRTO           time.Duration
	MaxTransmissions uint8
	ProbeInterval    time.Duration
	TimerTick        time.Duration
}

// DefaultConfig returns the constants listed in spec §6.
func DefaultConfig() Config {
	return Config{
		MSS:              1460,
		BufferSize:       4380,
		PortRangeStart:   40000,
		PortRangeEnd:     60000,
		InitialRTO:       time.Second,
		MinRTO:           time.Second,
		MaxRTO:           60 * time.Second,
		SynRTO:           3 * time.Second,
		MaxTransmissions: 5,
		ProbeInterval:    5 * time.Second,
		TimerTick:        100 * time.Millisecond,
	}
}

// addr4 is a comparable stand-in for net.IP (a slice, and so not usable as
// a map key component directly) sized for the IPv4-only scope of this
// engine.
type addr4 [4]byte

func toAddr4(ip net.IP) addr4 {
	var a addr4
	if v4 := ip.To4(); v4 != nil {
		copy(a[:], v4)
	}
	return a
}

func (a addr4) IP() net.IP { return net.IP(a[:]).To4() }

func (a addr4) String() string { return a.IP().String() }

var undeterminedAddr addr4 // 0.0.0.0, the listening-socket sentinel (spec §3)

const undeterminedPort uint16 = 0

// ConnID is the 4-tuple identity of a connection (spec §3). A listening
// socket uses RemoteIP = 0.0.0.0, RemotePort = 0.
type ConnID struct {
	LocalIP    addr4
	RemoteIP   addr4
	LocalPort  uint16
	RemotePort uint16
}

func (id ConnID) String() string {
	return fmt.Sprintf("%s:%d<->%s:%d", id.LocalIP, id.LocalPort, id.RemoteIP, id.RemotePort)
}

// listenerID returns the sentinel ConnID a passive socket is stored under:
// same local endpoint, remote endpoint undetermined.
func listenerID(localIP addr4, localPort uint16) ConnID {
	return ConnID{LocalIP: localIP, RemoteIP: undeterminedAddr, LocalPort: localPort, RemotePort: undeterminedPort}
}

// Status is a connection's place in the state machine (spec §3, §4.4).
// Closing and TimeWait are declared, never reached: simultaneous close is
// out of scope (spec §9).
type Status int

const (
	StatusListen Status = iota
	StatusSynSent
	StatusSynRcvd
	StatusEstablished
	StatusFinWait1
	StatusFinWait2
	StatusClosing
	StatusTimeWait
	StatusCloseWait
	StatusLastAck
)

func (s Status) String() string {
	switch s {
	case StatusListen:
		return "LISTEN"
	case StatusSynSent:
		return "SYN_SENT"
	case StatusSynRcvd:
		return "SYN_RCVD"
	case StatusEstablished:
		return "ESTABLISHED"
	case StatusFinWait1:
		return "FIN_WAIT_1"
	case StatusFinWait2:
		return "FIN_WAIT_2"
	case StatusClosing:
		return "CLOSING"
	case StatusTimeWait:
		return "TIME_WAIT"
	case StatusCloseWait:
		return "CLOSE_WAIT"
	case StatusLastAck:
		return "LAST_ACK"
	default:
		return "UNKNOWN"
	}
}

// Seq is a 32-bit TCP sequence number. Comparisons must be wrap-aware
// (spec §4.4, §9): all relational methods treat the difference as a signed
// 32-bit quantity, the standard idiom for sequence-number arithmetic modulo
// 2^32.
type Seq uint32

func (s Seq) Add(n uint32) Seq { return s + Seq(n) }

// LessThan reports whether s precedes o in sequence-number order.
func (s Seq) LessThan(o Seq) bool { return int32(s-o) < 0 }

// LessEqual reports whether s precedes or equals o.
func (s Seq) LessEqual(o Seq) bool { return s == o || s.LessThan(o) }

// GreaterThan reports whether s follows o.
func (s Seq) GreaterThan(o Seq) bool { return o.LessThan(s) }

// GreaterEqual reports whether s follows or equals o.
func (s Seq) GreaterEqual(o Seq) bool { return s == o || o.LessThan(s) }

// InWindow reports whether s lies in [low, low+size).
func (s Seq) InWindow(low Seq, size uint32) bool {
	return s.GreaterEqual(low) && s.LessThan(low.Add(size))
}
