// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/webtorrent/lib/clock"
	"github.com/bureau-foundation/webtorrent/protocol"
)

// maxMessageSize caps outbound data channel messages. Browsers
// negotiate small SCTP message limits, so large writes are split into
// chunks the remote side is guaranteed to accept.
const maxMessageSize = 16 * 1024

// Stream adapts an open, message-framed data channel into an ordered
// duplex byte stream. Read and Write block; at most one of each may be
// in flight at a time, a second concurrent call fails with
// ErrOperationNotSupported. Partial reads are normal: a Read returns
// as soon as at least one byte is available.
//
// Stream implements net.Conn, including deadline support, so the
// BitTorrent wire protocol can treat a WebRTC peer like any TCP peer.
type Stream struct {
	pc PeerConnection
	dc DataChannel

	clk clock.Clock

	mu   sync.Mutex
	cond *sync.Cond

	// incoming holds message payloads delivered by the channel but
	// not yet consumed. The front message may be partially consumed;
	// incomingSize tracks the total unconsumed byte count.
	incoming     [][]byte
	incomingSize int

	readPending  bool
	writePending bool
	readAborted  bool
	writeAborted bool

	closed       bool
	remoteClosed bool

	readDeadline  deadline
	writeDeadline deadline
}

var _ net.Conn = (*Stream)(nil)

// NewStream wraps an open peer connection and data channel. The
// Stream owns both handles from this point on; closing the Stream
// closes them. A nil clk means the real clock.
func NewStream(pc PeerConnection, dc DataChannel, clk clock.Clock) *Stream {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Stream{pc: pc, dc: dc, clk: clk}
	s.cond = sync.NewCond(&s.mu)

	dc.OnMessage(func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.remoteClosed {
			return
		}
		s.incoming = append(s.incoming, buf)
		s.incomingSize += len(buf)
		s.cond.Broadcast()
	})
	dc.OnClose(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.remoteClosed = true
		s.cond.Broadcast()
	})
	return s
}

// Read copies buffered bytes into p, blocking until at least one byte
// is available. A zero-length p returns (0, nil) while the stream is
// open. After the remote side closes the channel, Read drains the
// remaining buffered bytes and then returns io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		if s.closed {
			return 0, protocol.ErrNotConnected
		}
		return 0, nil
	}
	if s.readPending {
		return 0, protocol.ErrOperationNotSupported
	}
	if s.closed {
		return 0, protocol.ErrNotConnected
	}

	s.readPending = true
	defer func() { s.readPending = false }()

	for {
		if s.readAborted {
			s.readAborted = false
			return 0, protocol.ErrOperationAborted
		}
		if s.incomingSize > 0 {
			return s.drainLocked(p), nil
		}
		if s.closed {
			return 0, protocol.ErrNotConnected
		}
		if s.remoteClosed {
			return 0, io.EOF
		}
		if s.readDeadline.expired {
			return 0, os.ErrDeadlineExceeded
		}
		s.cond.Wait()
	}
}

// drainLocked copies from the incoming queue into p, consuming the
// front message partially when p is smaller than it.
func (s *Stream) drainLocked(p []byte) int {
	n := 0
	for n < len(p) && len(s.incoming) > 0 {
		front := s.incoming[0]
		c := copy(p[n:], front)
		n += c
		s.incomingSize -= c
		if c == len(front) {
			s.incoming = s.incoming[1:]
		} else {
			s.incoming[0] = front[c:]
		}
	}
	if len(s.incoming) == 0 {
		s.incoming = nil
	}
	return n
}

// Write hands p to the data channel as one or more messages, in
// order. It returns the number of bytes accepted by the channel,
// which equals len(p) unless the stream closes or the write deadline
// expires mid-way. A zero-length p returns (0, nil) while the stream
// is open.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		if s.closed {
			return 0, protocol.ErrNotConnected
		}
		return 0, nil
	}
	if s.writePending {
		return 0, protocol.ErrOperationNotSupported
	}
	if s.closed {
		return 0, protocol.ErrNotConnected
	}

	s.writePending = true
	defer func() { s.writePending = false }()

	sent := 0
	for sent < len(p) {
		if s.writeAborted {
			s.writeAborted = false
			return sent, protocol.ErrOperationAborted
		}
		if s.closed || s.remoteClosed {
			return sent, protocol.ErrNotConnected
		}
		if s.writeDeadline.expired {
			return sent, os.ErrDeadlineExceeded
		}

		end := sent + maxMessageSize
		if end > len(p) {
			end = len(p)
		}
		chunk := p[sent:end]

		// Send may call back into the engine; never hold the lock
		// across it.
		s.mu.Unlock()
		err := s.dc.Send(chunk)
		s.mu.Lock()
		if err != nil {
			return sent, fmt.Errorf("data channel send: %w", err)
		}
		sent = end
	}
	return sent, nil
}

// Cancel aborts the pending Read and Write, if any; each returns
// ErrOperationAborted. The stream itself stays open and usable.
func (s *Stream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.readPending {
		s.readAborted = true
	}
	if s.writePending {
		s.writeAborted = true
	}
	s.cond.Broadcast()
}

// Close aborts pending operations with ErrOperationAborted, discards
// buffered data, and closes the data channel and peer connection.
// Subsequent operations fail with ErrNotConnected. Close is
// idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.readPending {
		s.readAborted = true
	}
	if s.writePending {
		s.writeAborted = true
	}
	s.incoming = nil
	s.incomingSize = 0
	s.readDeadline.clear()
	s.writeDeadline.clear()
	s.cond.Broadcast()
	s.mu.Unlock()

	s.dc.Close()
	return s.pc.Close()
}

// IsOpen reports whether Close has not been called.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Available reports the bytes readable without blocking: the adapter's
// own buffer plus whatever the channel holds undelivered.
func (s *Stream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.incomingSize + s.dc.BufferedInbound()
}

// LocalEndpoint reports the local half of the selected candidate pair.
func (s *Stream) LocalEndpoint() (netip.AddrPort, error) {
	return s.endpoint(s.pc.LocalAddress)
}

// RemoteEndpoint reports the remote half of the selected candidate
// pair.
func (s *Stream) RemoteEndpoint() (netip.AddrPort, error) {
	return s.endpoint(s.pc.RemoteAddress)
}

func (s *Stream) endpoint(get func() (string, bool)) (netip.AddrPort, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return netip.AddrPort{}, protocol.ErrNotConnected
	}
	addr, ok := get()
	if !ok {
		return netip.AddrPort{}, protocol.ErrOperationNotSupported
	}
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %q", protocol.ErrAddressFamilyNotSupported, addr)
	}
	return ap, nil
}

// LocalAddr implements net.Conn. The address is best-effort: engines
// that do not expose a candidate pair yield an empty address string.
func (s *Stream) LocalAddr() net.Addr {
	addr, _ := s.pc.LocalAddress()
	return channelAddr{addr: addr}
}

// RemoteAddr implements net.Conn.
func (s *Stream) RemoteAddr() net.Addr {
	addr, _ := s.pc.RemoteAddress()
	return channelAddr{addr: addr}
}

// SetDeadline implements net.Conn.
func (s *Stream) SetDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.ErrNotConnected
	}
	s.setDeadlineLocked(&s.readDeadline, t)
	s.setDeadlineLocked(&s.writeDeadline, t)
	return nil
}

// SetReadDeadline implements net.Conn. A Read blocked past the
// deadline returns os.ErrDeadlineExceeded.
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.ErrNotConnected
	}
	s.setDeadlineLocked(&s.readDeadline, t)
	return nil
}

// SetWriteDeadline implements net.Conn.
func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.ErrNotConnected
	}
	s.setDeadlineLocked(&s.writeDeadline, t)
	return nil
}

func (s *Stream) setDeadlineLocked(d *deadline, t time.Time) {
	d.clear()
	if t.IsZero() {
		s.cond.Broadcast()
		return
	}
	wait := t.Sub(s.clk.Now())
	if wait <= 0 {
		d.expired = true
		s.cond.Broadcast()
		return
	}
	gen := d.gen
	d.timer = s.clk.AfterFunc(wait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A timer that lost the race against clear() must not expire
		// the deadline that replaced it.
		if d.gen != gen {
			return
		}
		d.expired = true
		s.cond.Broadcast()
	})
}

// deadline is one direction's deadline state: an armed timer, or an
// already-expired marker. gen invalidates callbacks from timers that
// fired concurrently with clear.
type deadline struct {
	timer   *clock.Timer
	expired bool
	gen     uint64
}

func (d *deadline) clear() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.expired = false
	d.gen++
}

// channelAddr is the net.Addr for a WebRTC data channel endpoint.
type channelAddr struct {
	addr string
}

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return a.addr }
