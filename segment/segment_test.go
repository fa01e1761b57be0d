package segment

import (
	"net"
	"testing"
)

var (
	localIP  = net.ParseIP("10.0.0.1")
	remoteIP = net.ParseIP("10.0.0.2")
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Fields{
		SrcPort: 40001,
		DstPort: 8000,
		Seq:     123456,
		Ack:     654321,
		Flags:   FlagSYN | FlagACK,
		Window:  4380,
	}
	payload := []byte("hello")

	s := Encode(f, payload, localIP, remoteIP)
	got, err := Decode(s.Raw())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.SrcPort() != f.SrcPort {
		t.Errorf("SrcPort = %d, want %d", got.SrcPort(), f.SrcPort)
	}
	if got.DstPort() != f.DstPort {
		t.Errorf("DstPort = %d, want %d", got.DstPort(), f.DstPort)
	}
	if got.Seq() != f.Seq {
		t.Errorf("Seq = %d, want %d", got.Seq(), f.Seq)
	}
	if got.Ack() != f.Ack {
		t.Errorf("Ack = %d, want %d", got.Ack(), f.Ack)
	}
	if got.Flags() != f.Flags {
		t.Errorf("Flags = %v, want %v", got.Flags(), f.Flags)
	}
	if got.Window() != f.Window {
		t.Errorf("Window = %d, want %d", got.Window(), f.Window)
	}
	if got.DataOffset() != HeaderSize {
		t.Errorf("DataOffset = %d, want %d", got.DataOffset(), HeaderSize)
	}
	if string(got.Payload()) != "hello" {
		t.Errorf("Payload = %q, want %q", got.Payload(), "hello")
	}
}

func TestChecksumVerifies(t *testing.T) {
	s := Encode(Fields{SrcPort: 1, DstPort: 2, Seq: 1, Ack: 0, Flags: FlagSYN}, nil, localIP, remoteIP)
	if !s.VerifyChecksum(localIP, remoteIP) {
		t.Fatalf("VerifyChecksum should succeed for a freshly encoded segment")
	}
}

func TestChecksumRejectsCorruption(t *testing.T) {
	s := Encode(Fields{SrcPort: 1, DstPort: 2, Seq: 1, Ack: 0, Flags: FlagACK}, []byte("data"), localIP, remoteIP)
	raw := s.Raw()
	raw[HeaderSize] ^= 0xFF // flip a payload byte after the checksum was computed

	if s.VerifyChecksum(localIP, remoteIP) {
		t.Fatalf("VerifyChecksum should fail once the payload is corrupted")
	}
}

func TestChecksumRejectsWrongPeer(t *testing.T) {
	s := Encode(Fields{SrcPort: 1, DstPort: 2, Seq: 1, Ack: 0, Flags: FlagACK}, nil, localIP, remoteIP)
	other := net.ParseIP("10.0.0.3")
	if s.VerifyChecksum(localIP, other) {
		t.Fatalf("VerifyChecksum should fail when remote IP doesn't match")
	}
}

func TestLenAccountsForSynAndFin(t *testing.T) {
	syn := Encode(Fields{Flags: FlagSYN}, nil, localIP, remoteIP)
	if syn.Len() != 1 {
		t.Errorf("SYN Len() = %d, want 1", syn.Len())
	}

	finAck := Encode(Fields{Flags: FlagFIN | FlagACK}, nil, localIP, remoteIP)
	if finAck.Len() != 1 {
		t.Errorf("FIN|ACK Len() = %d, want 1", finAck.Len())
	}

	data := Encode(Fields{Flags: FlagACK}, []byte("12345"), localIP, remoteIP)
	if data.Len() != 5 {
		t.Errorf("data Len() = %d, want 5", data.Len())
	}

	pureAck := Encode(Fields{Flags: FlagACK}, nil, localIP, remoteIP)
	if pureAck.Len() != 0 {
		t.Errorf("pure ACK Len() = %d, want 0", pureAck.Len())
	}
}

func TestFlagsString(t *testing.T) {
	if got := (FlagSYN | FlagACK).String(); got != "SYN|ACK" {
		t.Errorf("Flags.String() = %q, want %q", got, "SYN|ACK")
	}
	if got := Flags(0).String(); got != "(none)" {
		t.Errorf("Flags(0).String() = %q, want %q", got, "(none)")
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err == nil {
		t.Fatalf("Decode should reject a buffer shorter than the fixed header")
	}
}
