// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/webtorrent/lib/clock"
	"github.com/bureau-foundation/webtorrent/protocol"
)

// newStreamPair builds two Streams whose data channels are wired
// directly to each other.
func newStreamPair(t *testing.T, clk clock.Clock) (*Stream, *Stream) {
	t.Helper()
	engine := NewMemoryEngine()
	engine.LocalAddr = "10.0.0.1:6881"
	engine.RemoteAddr = "192.0.2.7:51413"

	pcA, err := engine.NewPeerConnection(Config{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	pcB, err := engine.NewPeerConnection(Config{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}

	chA := &memoryDataChannel{label: DataChannelLabel, opened: true}
	chB := &memoryDataChannel{label: DataChannelLabel, opened: true}
	chA.peer, chB.peer = chB, chA

	return NewStream(pcA, chA, clk), NewStream(pcB, chB, clk)
}

func TestStreamWriteThenRead(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()
	defer b.Close()

	if n, err := a.Write([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("Write = (%d, %v), want (5, nil)", n, err)
	}

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestStreamPartialReads(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()
	defer b.Close()

	if _, err := a.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	var got []byte
	buf := make([]byte, 4)
	for len(got) < 10 {
		n, err := b.Read(buf)
		if err != nil {
			t.Fatalf("Read error after %d bytes: %v", len(got), err)
		}
		if n == 0 {
			t.Fatal("Read returned 0 bytes without error")
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "0123456789" {
		t.Fatalf("reassembled %q, want %q", got, "0123456789")
	}
}

func TestStreamReadBlocksUntilData(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()
	defer b.Close()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 8)
		n, err := b.Read(buf)
		done <- result{data: buf[:n], err: err}
	}()

	select {
	case r := <-done:
		t.Fatalf("Read returned early: (%q, %v)", r.data, r.err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := a.Write([]byte("late")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	r := <-done
	if r.err != nil || string(r.data) != "late" {
		t.Fatalf("Read = (%q, %v), want (late, nil)", r.data, r.err)
	}
}

func TestStreamZeroLengthOperations(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer b.Close()

	if n, err := a.Read(nil); n != 0 || err != nil {
		t.Fatalf("Read(nil) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := a.Write(nil); n != 0 || err != nil {
		t.Fatalf("Write(nil) = (%d, %v), want (0, nil)", n, err)
	}

	a.Close()
	if _, err := a.Read(nil); !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("Read(nil) on closed stream error = %v, want ErrNotConnected", err)
	}
	if _, err := a.Write(nil); !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("Write(nil) on closed stream error = %v, want ErrNotConnected", err)
	}
}

func TestStreamSecondConcurrentRead(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()
	defer b.Close()

	first := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4))
		first <- err
	}()

	// Wait for the first read to park.
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		pending := b.readPending
		b.mu.Unlock()
		if pending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first read never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := b.Read(make([]byte, 4)); !errors.Is(err, protocol.ErrOperationNotSupported) {
		t.Fatalf("second Read error = %v, want ErrOperationNotSupported", err)
	}

	b.Cancel()
	if err := <-first; !errors.Is(err, protocol.ErrOperationAborted) {
		t.Fatalf("cancelled Read error = %v, want ErrOperationAborted", err)
	}
	if !b.IsOpen() {
		t.Fatal("Cancel closed the stream")
	}

	// The stream is still usable after Cancel.
	if _, err := a.Write([]byte("x")); err != nil {
		t.Fatalf("Write after Cancel error: %v", err)
	}
	if n, err := b.Read(make([]byte, 4)); n != 1 || err != nil {
		t.Fatalf("Read after Cancel = (%d, %v), want (1, nil)", n, err)
	}
}

func TestStreamCloseAbortsPendingRead(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4))
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		pending := b.readPending
		b.mu.Unlock()
		if pending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("read never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := <-done; !errors.Is(err, protocol.ErrOperationAborted) {
		t.Fatalf("aborted Read error = %v, want ErrOperationAborted", err)
	}

	if _, err := b.Read(make([]byte, 4)); !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("Read after Close error = %v, want ErrNotConnected", err)
	}
	if _, err := b.Write([]byte("x")); !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("Write after Close error = %v, want ErrNotConnected", err)
	}
	if b.IsOpen() {
		t.Fatal("IsOpen after Close")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestStreamRemoteCloseDrainsThenEOF(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer b.Close()

	if _, err := a.Write([]byte("tail")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	a.Close()

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil || string(buf[:n]) != "tail" {
		t.Fatalf("Read = (%q, %v), want buffered bytes", buf[:n], err)
	}
	if _, err := b.Read(buf); err != io.EOF {
		t.Fatalf("Read after drain error = %v, want io.EOF", err)
	}
}

func TestStreamReadDeadline(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	a, b := newStreamPair(t, clk)
	defer a.Close()
	defer b.Close()

	if err := b.SetReadDeadline(clk.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 4))
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		pending := b.readPending
		b.mu.Unlock()
		if pending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("read never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	clk.Advance(5 * time.Second)
	if err := <-done; !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read error = %v, want ErrDeadlineExceeded", err)
	}

	// An expired deadline keeps failing reads until cleared.
	if _, err := b.Read(make([]byte, 4)); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read error = %v, want ErrDeadlineExceeded", err)
	}
	if err := b.SetReadDeadline(time.Time{}); err != nil {
		t.Fatalf("clearing deadline error: %v", err)
	}
	if _, err := a.Write([]byte("ok")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n, err := b.Read(make([]byte, 4)); n != 2 || err != nil {
		t.Fatalf("Read after clearing deadline = (%d, %v), want (2, nil)", n, err)
	}
}

func TestStreamPastDeadlineFailsImmediately(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	a, b := newStreamPair(t, clk)
	defer a.Close()
	defer b.Close()

	if err := b.SetDeadline(clk.Now().Add(-time.Second)); err != nil {
		t.Fatalf("SetDeadline error: %v", err)
	}
	if _, err := b.Read(make([]byte, 4)); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read error = %v, want ErrDeadlineExceeded", err)
	}
	if _, err := b.Write([]byte("x")); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Write error = %v, want ErrDeadlineExceeded", err)
	}
}

func TestStreamAvailable(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()
	defer b.Close()

	if got := b.Available(); got != 0 {
		t.Fatalf("Available on fresh stream = %d, want 0", got)
	}
	if _, err := a.Write([]byte("12345")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if got := b.Available(); got != 5 {
		t.Fatalf("Available = %d, want 5", got)
	}
	if _, err := b.Read(make([]byte, 2)); err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if got := b.Available(); got != 3 {
		t.Fatalf("Available after partial read = %d, want 3", got)
	}
}

func TestStreamLargeWriteIsChunked(t *testing.T) {
	a, b := newStreamPair(t, nil)
	defer a.Close()
	defer b.Close()

	payload := bytes.Repeat([]byte{0xAB}, 3*maxMessageSize+17)
	if n, err := a.Write(payload); n != len(payload) || err != nil {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(payload))
	}

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatalf("ReadFull error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload corrupted in transit")
	}
}

func TestStreamEndpoints(t *testing.T) {
	a, _ := newStreamPair(t, nil)

	local, err := a.LocalEndpoint()
	if err != nil {
		t.Fatalf("LocalEndpoint error: %v", err)
	}
	if local.String() != "10.0.0.1:6881" {
		t.Fatalf("LocalEndpoint = %s, want 10.0.0.1:6881", local)
	}
	remote, err := a.RemoteEndpoint()
	if err != nil {
		t.Fatalf("RemoteEndpoint error: %v", err)
	}
	if remote.String() != "192.0.2.7:51413" {
		t.Fatalf("RemoteEndpoint = %s, want 192.0.2.7:51413", remote)
	}

	if a.LocalAddr().Network() != "webrtc" || a.LocalAddr().String() != "10.0.0.1:6881" {
		t.Fatalf("LocalAddr = %s/%s", a.LocalAddr().Network(), a.LocalAddr())
	}

	a.Close()
	if _, err := a.LocalEndpoint(); !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("LocalEndpoint after Close error = %v, want ErrNotConnected", err)
	}
}

func TestStreamEndpointErrors(t *testing.T) {
	engine := NewMemoryEngine()
	pc, _ := engine.NewPeerConnection(Config{})
	ch := &memoryDataChannel{label: DataChannelLabel, opened: true}
	s := NewStream(pc, ch, nil)
	defer s.Close()

	if _, err := s.LocalEndpoint(); !errors.Is(err, protocol.ErrOperationNotSupported) {
		t.Fatalf("LocalEndpoint error = %v, want ErrOperationNotSupported", err)
	}

	engine.LocalAddr = "not an address"
	if _, err := s.LocalEndpoint(); !errors.Is(err, protocol.ErrAddressFamilyNotSupported) {
		t.Fatalf("LocalEndpoint error = %v, want ErrAddressFamilyNotSupported", err)
	}
}
