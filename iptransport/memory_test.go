package iptransport

import (
	"net"
	"testing"
	"time"
)

func TestMemoryPairDeliversWrites(t *testing.T) {
	a, b := NewMemoryPair()
	defer a.Close()
	defer b.Close()

	local := net.ParseIP("10.0.0.1")
	remote := net.ParseIP("10.0.0.2")

	if err := a.WriteSegment(local, remote, []byte("hello")); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	src, dst, seg, err := b.ReadSegment()
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if !src.Equal(local) || !dst.Equal(remote) {
		t.Errorf("got src=%v dst=%v, want src=%v dst=%v", src, dst, local, remote)
	}
	if string(seg) != "hello" {
		t.Errorf("got payload %q, want %q", seg, "hello")
	}
}

func TestMemoryCloseUnblocksReader(t *testing.T) {
	a, b := NewMemoryPair()
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, _, _, err := b.ReadSegment()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("got err=%v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock ReadSegment")
	}
}

func TestLossyCanDropAllWrites(t *testing.T) {
	a, b := NewMemoryPair()
	defer a.Close()
	defer b.Close()

	lossy := NewLossy(a, 1)
	lossy.LossProbability = 1.0

	if err := lossy.WriteSegment(net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), []byte("x")); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	done := make(chan struct{})
	go func() {
		b.ReadSegment()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("ReadSegment should not have received anything: write should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
}
