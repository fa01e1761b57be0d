// Package iptransport is the raw transport adapter (spec §4.1): a blocking
// send of one TCP segment to an IPv4 peer, and a blocking receive of the
// next IPv4 packet carrying TCP. Everything above this layer (the engine,
// the state machine) only depends on the Transport interface, so tests can
// swap in an in-memory pair instead of opening a privileged raw socket.
package iptransport

import "net"

// Transport is the raw collaborator the engine drives: write one TCP
// segment addressed to remoteIP as if it came from localIP, and block for
// the next inbound one. Implementations are expected to be safe for
// concurrent use by one writer and one reader goroutine (never both
// reading, never both writing).
type Transport interface {
	// WriteSegment sends seg (a fully-encoded TCP segment, checksum
	// included) from localIP to remoteIP.
	WriteSegment(localIP, remoteIP net.IP, seg []byte) error

	// ReadSegment blocks for the next inbound IPv4 packet carrying
	// protocol 6 and returns its source/destination addresses and TCP
	// payload. It returns an error only when the transport itself is
	// broken or has been closed; malformed or irrelevant packets are the
	// caller's problem to filter, not this layer's.
	ReadSegment() (srcIP, dstIP net.IP, seg []byte, err error)

	// Close releases the underlying socket. A blocked ReadSegment
	// returns an error once Close is called.
	Close() error
}
