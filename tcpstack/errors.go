package tcpstack

import "errors"

var (
	// ErrConnectionRefused is returned by Connect when the peer never
	// completes the handshake (spec §9, Open Question: "what happens if
	// the initial SYN's retransmissions are exhausted"). Decision: surface
	// it as an error rather than block Connect forever.
	ErrConnectionRefused = errors.New("tcpstack: connection refused")

	// ErrRetransmissionLimit is wrapped by ErrConnectionRefused (and can
	// also terminate an established connection on its own) when a segment
	// has been transmitted Config.MaxTransmissions times in all (the first
	// send included) with no ACK.
	ErrRetransmissionLimit = errors.New("tcpstack: retransmission limit exceeded")

	// ErrClosed is returned by Send once the local side of the connection
	// has been closed (or was never established). Recv does not return it:
	// it keeps delivering data until the peer's FIN.
	ErrClosed = errors.New("tcpstack: connection closed")

	// ErrConnectionReset is returned by the next Send, Recv or Close on a
	// connection whose peer sent RST while it was ESTABLISHED or CLOSE_WAIT.
	// Shutdown does not report it: it drops every socket from the table
	// without setting an error on it.
	ErrConnectionReset = errors.New("tcpstack: connection reset")

	// ErrNoPortAvailable is returned by Connect when no ephemeral port in
	// the configured range could be claimed.
	ErrNoPortAvailable = errors.New("tcpstack: no ephemeral port available")

	// ErrNotListening is returned by Accept when called against a ConnID
	// that is not a listening socket.
	ErrNotListening = errors.New("tcpstack: not a listening socket")

	// ErrUnknownConnection is returned when an operation names a ConnID
	// absent from the socket table.
	ErrUnknownConnection = errors.New("tcpstack: unknown connection")
)
