package iptransport

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const (
	protocolTCP = 6

	// recvBufferBytes mirrors the generous socket buffer sizing seen on
	// other raw-socket implementations in the retrieval pack (e.g.
	// pkg/rawsocket bumping SO_RCVBUF/SO_SNDBUF to handle bursts); a
	// user-space TCP engine reading every TCP packet on the host
	// benefits from the same headroom.
	recvBufferBytes = 4 * 1024 * 1024
)

// RawIPv4 is the production Transport: a raw IPv4 socket carrying protocol
// 6 (TCP), read/written via golang.org/x/net/ipv4's RawConn so the caller
// can set the source address explicitly on every write instead of letting
// the kernel fill it in.
type RawIPv4 struct {
	conn *ipv4.RawConn
}

// NewRawIPv4 opens a raw IPv4 socket for protocol 6. It requires
// CAP_NET_RAW (or root) on Linux.
func NewRawIPv4() (*RawIPv4, error) {
	pc, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("iptransport: open raw socket: %w", err)
	}

	rawConn, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("iptransport: wrap raw socket: %w", err)
	}

	setBuffers(pc)

	return &RawIPv4{conn: rawConn}, nil
}

// setBuffers raises the socket's receive/send buffers. Errors are
// swallowed: some systems (containers, sandboxed kernels) refuse to raise
// these beyond a default ceiling, and that's not fatal to opening the
// socket.
func setBuffers(pc net.PacketConn) {
	sc, ok := pc.(syscall.Conn)
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferBytes)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, recvBufferBytes)
	})
}

func (t *RawIPv4) WriteSegment(localIP, remoteIP net.IP, seg []byte) error {
	header := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(seg),
		TTL:      64,
		Protocol: protocolTCP,
		Dst:      remoteIP.To4(),
		Src:      localIP.To4(),
	}
	if err := t.conn.WriteTo(header, seg, nil); err != nil {
		return fmt.Errorf("iptransport: write to %s: %w", remoteIP, err)
	}
	return nil
}

func (t *RawIPv4) ReadSegment() (srcIP, dstIP net.IP, seg []byte, err error) {
	buf := make([]byte, 65535)
	header, payload, _, err := t.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("iptransport: read: %w", err)
	}
	if header.Protocol != protocolTCP {
		return header.Src, header.Dst, nil, nil
	}
	return header.Src, header.Dst, payload, nil
}

func (t *RawIPv4) Close() error {
	return t.conn.Close()
}
