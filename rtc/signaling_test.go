// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/webtorrent/lib/clock"
	"github.com/bureau-foundation/webtorrent/protocol"
)

// fakeEngine is a fully scripted Engine: nothing happens until the
// test fires gathering, state, or open events by hand.
type fakeEngine struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (e *fakeEngine) NewPeerConnection(config Config) (PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := &fakePC{}
	e.pcs = append(e.pcs, pc)
	return pc, nil
}

func (e *fakeEngine) pc(i int) *fakePC {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pcs[i]
}

type fakePC struct {
	mu        sync.Mutex
	dc        *fakeDC
	remote    []Description
	gathering func(string)
	state     func(State)
	incoming  func(DataChannel)
	closed    bool
}

func (p *fakePC) CreateDataChannel(label string) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dc = &fakeDC{label: label}
	return p.dc, nil
}

func (p *fakePC) SetRemoteDescription(desc Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePC) OnGatheringComplete(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gathering = fn
}

func (p *fakePC) OnStateChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = fn
}

func (p *fakePC) OnDataChannel(fn func(DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incoming = fn
}

func (p *fakePC) LocalAddress() (string, bool)  { return "", false }
func (p *fakePC) RemoteAddress() (string, bool) { return "", false }

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// gatherComplete simulates the engine finishing candidate gathering.
func (p *fakePC) gatherComplete(sdp string) {
	p.mu.Lock()
	fn := p.gathering
	p.mu.Unlock()
	if fn != nil {
		fn(sdp)
	}
}

// fail simulates the connection reaching the Failed state.
func (p *fakePC) fail() {
	p.mu.Lock()
	fn := p.state
	p.mu.Unlock()
	if fn != nil {
		fn(StateFailed)
	}
}

// openChannel simulates the data channel opening end to end.
func (p *fakePC) openChannel() {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc != nil {
		dc.open()
	}
}

func (p *fakePC) remoteDescriptions() []Description {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Description(nil), p.remote...)
}

type fakeDC struct {
	label string

	mu      sync.Mutex
	opened  bool
	closed  bool
	sent    [][]byte
	onOpen  func()
	onMsg   func([]byte)
	onClose func()
}

func (c *fakeDC) Label() string { return c.label }

func (c *fakeDC) OnOpen(fn func()) {
	c.mu.Lock()
	fire := c.opened
	c.onOpen = fn
	c.mu.Unlock()
	if fire && fn != nil {
		fn()
	}
}

func (c *fakeDC) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

func (c *fakeDC) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *fakeDC) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeDC) BufferedInbound() int { return 0 }

func (c *fakeDC) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeDC) open() {
	c.mu.Lock()
	c.opened = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// collector accumulates handed-off streams.
type collector struct {
	mu      sync.Mutex
	peers   []protocol.PeerID
	streams []*Stream
}

func (c *collector) handler(peer protocol.PeerID, stream *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = append(c.peers, peer)
	c.streams = append(c.streams, stream)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

func TestGenerateOffersZero(t *testing.T) {
	s := NewSignaling(&fakeEngine{}, (&collector{}).handler, SignalingOptions{})
	defer s.Close()

	fired := false
	s.GenerateOffers(0, func(offers []protocol.Offer) {
		fired = true
		if len(offers) != 0 {
			t.Fatalf("handler got %d offers, want 0", len(offers))
		}
	})
	if !fired {
		t.Fatal("handler did not fire synchronously for n=0")
	}
}

func TestGenerateOffersBatch(t *testing.T) {
	engine := &fakeEngine{}
	s := NewSignaling(engine, (&collector{}).handler, SignalingOptions{})
	defer s.Close()

	var got []protocol.Offer
	calls := 0
	s.GenerateOffers(3, func(offers []protocol.Offer) {
		calls++
		got = offers
	})
	if calls != 0 {
		t.Fatal("handler fired before any gathering completed")
	}
	if s.PendingConnections() != 3 {
		t.Fatalf("PendingConnections = %d, want 3", s.PendingConnections())
	}

	for i, sdp := range []string{"s0", "s1", "s2"} {
		engine.pc(i).gatherComplete(sdp)
	}

	if calls != 1 {
		t.Fatalf("handler fired %d times, want 1", calls)
	}
	if len(got) != 3 {
		t.Fatalf("handler got %d offers, want 3", len(got))
	}
	seen := make(map[protocol.OfferID]bool)
	for _, offer := range got {
		if seen[offer.ID] {
			t.Fatalf("duplicate offer id %s", offer.ID)
		}
		seen[offer.ID] = true
		if offer.PeerID.IsZero() {
			t.Fatal("offer carries a zero peer id")
		}
	}
	sdps := []string{got[0].SDP, got[1].SDP, got[2].SDP}
	for _, want := range []string{"s0", "s1", "s2"} {
		found := false
		for _, sdp := range sdps {
			if sdp == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("sdp %q missing from batch %v", want, sdps)
		}
	}

	// Gathering again must not re-emit.
	engine.pc(0).gatherComplete("again")
	if calls != 1 {
		t.Fatalf("handler fired %d times after duplicate gather, want 1", calls)
	}
}

func TestBatchesResolveInRequestOrder(t *testing.T) {
	engine := &fakeEngine{}
	s := NewSignaling(engine, (&collector{}).handler, SignalingOptions{})
	defer s.Close()

	var order []string
	s.GenerateOffers(2, func([]protocol.Offer) { order = append(order, "first") })
	s.GenerateOffers(1, func([]protocol.Offer) { order = append(order, "second") })

	// Completing the second batch's connection first must not let it
	// overtake the head of the queue.
	engine.pc(2).gatherComplete("b2")
	if len(order) != 0 {
		t.Fatalf("second batch resolved before first: %v", order)
	}

	engine.pc(0).gatherComplete("a0")
	engine.pc(1).gatherComplete("a1")
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("resolution order = %v, want [first second]", order)
	}
}

func TestFailedConnectionShrinksBatch(t *testing.T) {
	engine := &fakeEngine{}
	s := NewSignaling(engine, (&collector{}).handler, SignalingOptions{})
	defer s.Close()

	var got []protocol.Offer
	calls := 0
	s.GenerateOffers(2, func(offers []protocol.Offer) {
		calls++
		got = offers
	})

	engine.pc(0).gatherComplete("ok")
	if calls != 0 {
		t.Fatal("batch resolved before second connection finished")
	}
	engine.pc(1).fail()

	if calls != 1 {
		t.Fatalf("handler fired %d times, want 1", calls)
	}
	if len(got) != 1 || got[0].SDP != "ok" {
		t.Fatalf("handler got %v, want the single successful offer", got)
	}
	if s.PendingConnections() != 1 {
		t.Fatalf("PendingConnections = %d, want 1", s.PendingConnections())
	}
	if !engine.pc(1).closed {
		t.Fatal("failed peer connection was not closed")
	}
}

func TestAnswerRoutingAndDuplicateDrop(t *testing.T) {
	engine := &fakeEngine{}
	streams := &collector{}
	s := NewSignaling(engine, streams.handler, SignalingOptions{})
	defer s.Close()

	var offers []protocol.Offer
	s.GenerateOffers(1, func(batch []protocol.Offer) { offers = batch })
	engine.pc(0).gatherComplete("local-offer")
	if len(offers) != 1 {
		t.Fatalf("got %d offers, want 1", len(offers))
	}

	remotePeer := protocol.GeneratePeerID()
	s.ProcessAnswer(protocol.Answer{OfferID: offers[0].ID, PeerID: remotePeer, SDP: "remote-answer"})

	descs := engine.pc(0).remoteDescriptions()
	if len(descs) != 1 || descs[0].Type != DescriptionAnswer || descs[0].SDP != "remote-answer" {
		t.Fatalf("remote descriptions = %v, want one answer", descs)
	}

	// A second answer for the same offer id is a duplicate.
	s.ProcessAnswer(protocol.Answer{OfferID: offers[0].ID, PeerID: protocol.GeneratePeerID(), SDP: "other"})
	if descs := engine.pc(0).remoteDescriptions(); len(descs) != 1 {
		t.Fatalf("duplicate answer was applied: %v", descs)
	}

	// An answer for an unknown offer id is stale.
	s.ProcessAnswer(protocol.Answer{OfferID: protocol.NewOfferID(), PeerID: remotePeer, SDP: "stale"})
	if descs := engine.pc(0).remoteDescriptions(); len(descs) != 1 {
		t.Fatalf("stale answer was applied: %v", descs)
	}

	engine.pc(0).openChannel()
	if streams.count() != 1 {
		t.Fatalf("stream handler fired %d times, want 1", streams.count())
	}
	if streams.peers[0] != remotePeer {
		t.Fatalf("handed-off peer = %s, want %s", streams.peers[0], remotePeer)
	}
	if s.PendingConnections() != 0 {
		t.Fatalf("PendingConnections after handoff = %d, want 0", s.PendingConnections())
	}
}

func TestOpenWithoutPeerIDIsDropped(t *testing.T) {
	engine := &fakeEngine{}
	streams := &collector{}
	s := NewSignaling(engine, streams.handler, SignalingOptions{})
	defer s.Close()

	s.GenerateOffers(1, func([]protocol.Offer) {})
	engine.pc(0).gatherComplete("sdp")

	// Channel opens before any answer arrived: no identity, no
	// handoff. The connection stays until its deadline reaps it.
	engine.pc(0).openChannel()
	if streams.count() != 0 {
		t.Fatal("stream handler fired for a connection without a peer id")
	}
	if s.PendingConnections() != 1 {
		t.Fatalf("PendingConnections = %d, want 1", s.PendingConnections())
	}
}

func TestDeadlineReapsConnection(t *testing.T) {
	engine := &fakeEngine{}
	clk := clock.Fake(time.Unix(1000, 0))
	s := NewSignaling(engine, (&collector{}).handler, SignalingOptions{
		NegotiationTimeout: 10 * time.Second,
		Clock:              clk,
	})
	defer s.Close()

	var got []protocol.Offer
	calls := 0
	s.GenerateOffers(1, func(offers []protocol.Offer) {
		calls++
		got = offers
	})

	clk.Advance(9 * time.Second)
	if calls != 0 || s.PendingConnections() != 1 {
		t.Fatal("connection reaped before its deadline")
	}

	clk.Advance(time.Second)
	if calls != 1 || len(got) != 0 {
		t.Fatalf("handler calls = %d with %d offers, want 1 call with 0 offers", calls, len(got))
	}
	if s.PendingConnections() != 0 {
		t.Fatalf("PendingConnections = %d, want 0", s.PendingConnections())
	}
	if !engine.pc(0).closed {
		t.Fatal("timed-out peer connection was not closed")
	}
}

func TestProcessOfferAnswersThroughSink(t *testing.T) {
	engine := &fakeEngine{}
	streams := &collector{}
	s := NewSignaling(engine, streams.handler, SignalingOptions{})
	defer s.Close()

	offerID := protocol.NewOfferID()
	remotePeer := protocol.GeneratePeerID()

	var sinkLocal protocol.PeerID
	var sinkAnswer protocol.Answer
	sinkCalls := 0
	s.ProcessOffer(protocol.Offer{
		ID:     offerID,
		PeerID: remotePeer,
		SDP:    "remote-offer",
		AnswerSink: func(local protocol.PeerID, answer protocol.Answer) {
			sinkCalls++
			sinkLocal = local
			sinkAnswer = answer
		},
	})

	pc := engine.pc(0)
	descs := pc.remoteDescriptions()
	if len(descs) != 1 || descs[0].Type != DescriptionOffer || descs[0].SDP != "remote-offer" {
		t.Fatalf("remote descriptions = %v, want the offer", descs)
	}

	pc.gatherComplete("local-answer")
	if sinkCalls != 1 {
		t.Fatalf("answer sink fired %d times, want 1", sinkCalls)
	}
	if !strings.HasPrefix(string(sinkLocal[:]), "-WT0001-") {
		t.Fatalf("sink local peer id %q missing client prefix", sinkLocal)
	}
	if sinkAnswer.OfferID != offerID || sinkAnswer.PeerID != remotePeer || sinkAnswer.SDP != "local-answer" {
		t.Fatalf("sink answer = %+v", sinkAnswer)
	}

	// The remote side opens its channel toward us.
	remoteDC := &fakeDC{label: DataChannelLabel}
	pc.mu.Lock()
	deliver := pc.incoming
	pc.mu.Unlock()
	deliver(remoteDC)
	remoteDC.open()

	if streams.count() != 1 {
		t.Fatalf("stream handler fired %d times, want 1", streams.count())
	}
	if streams.peers[0] != remotePeer {
		t.Fatalf("handed-off peer = %s, want %s", streams.peers[0], remotePeer)
	}
}

func TestProcessOfferDuplicateIDDropped(t *testing.T) {
	engine := &fakeEngine{}
	s := NewSignaling(engine, (&collector{}).handler, SignalingOptions{})
	defer s.Close()

	offerID := protocol.NewOfferID()
	offer := protocol.Offer{ID: offerID, PeerID: protocol.GeneratePeerID(), SDP: "one"}
	s.ProcessOffer(offer)
	s.ProcessOffer(offer)

	if got := len(engine.pcs); got != 1 {
		t.Fatalf("created %d peer connections, want 1", got)
	}
	if s.PendingConnections() != 1 {
		t.Fatalf("PendingConnections = %d, want 1", s.PendingConnections())
	}
}

func TestCloseFiresPendingBatches(t *testing.T) {
	engine := &fakeEngine{}
	s := NewSignaling(engine, (&collector{}).handler, SignalingOptions{})

	calls := 0
	s.GenerateOffers(2, func(offers []protocol.Offer) {
		calls++
		if len(offers) != 0 {
			t.Fatalf("handler got %d offers at close, want 0", len(offers))
		}
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler fired %d times, want 1", calls)
	}
	if s.PendingConnections() != 0 {
		t.Fatalf("PendingConnections = %d, want 0", s.PendingConnections())
	}
	for i, pc := range engine.pcs {
		if !pc.closed {
			t.Fatalf("peer connection %d not closed", i)
		}
	}

	// Operations after Close are inert.
	s.GenerateOffers(1, func(offers []protocol.Offer) {
		if len(offers) != 0 {
			t.Fatal("closed coordinator generated offers")
		}
	})
}

// TestMemoryEngineEndToEnd drives two coordinators through a complete
// offer/answer/open cycle, playing the tracker's relay role by hand,
// then exchanges data across the resulting streams.
func TestMemoryEngineEndToEnd(t *testing.T) {
	engine := NewMemoryEngine()
	offerer := &collector{}
	answerer := &collector{}

	coordA := NewSignaling(engine, offerer.handler, SignalingOptions{})
	defer coordA.Close()
	coordB := NewSignaling(engine, answerer.handler, SignalingOptions{})
	defer coordB.Close()

	var offers []protocol.Offer
	coordA.GenerateOffers(1, func(batch []protocol.Offer) { offers = batch })
	if len(offers) != 1 {
		t.Fatalf("got %d offers, want 1", len(offers))
	}

	// Relay the offer to B. The sink mirrors what a tracker does:
	// the answering peer's identity rides in the answer frame.
	coordB.ProcessOffer(protocol.Offer{
		ID:     offers[0].ID,
		PeerID: offers[0].PeerID,
		SDP:    offers[0].SDP,
		AnswerSink: func(local protocol.PeerID, answer protocol.Answer) {
			coordA.ProcessAnswer(protocol.Answer{
				OfferID: answer.OfferID,
				PeerID:  local,
				SDP:     answer.SDP,
			})
		},
	})

	if offerer.count() != 1 || answerer.count() != 1 {
		t.Fatalf("handoffs = (%d, %d), want (1, 1)", offerer.count(), answerer.count())
	}
	if answerer.peers[0] != offers[0].PeerID {
		t.Fatalf("answerer saw peer %s, want %s", answerer.peers[0], offers[0].PeerID)
	}
	if coordA.PendingConnections() != 0 || coordB.PendingConnections() != 0 {
		t.Fatal("connection tables not empty after handoff")
	}

	streamA := offerer.streams[0]
	streamB := answerer.streams[0]
	defer streamA.Close()
	defer streamB.Close()

	if _, err := streamA.Write([]byte("ping")); err != nil {
		t.Fatalf("A write error: %v", err)
	}
	buf := make([]byte, 8)
	n, err := streamB.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("B read = (%q, %v), want ping", buf[:n], err)
	}

	if _, err := streamB.Write([]byte("pong")); err != nil {
		t.Fatalf("B write error: %v", err)
	}
	n, err = streamA.Read(buf)
	if err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("A read = (%q, %v), want pong", buf[:n], err)
	}
}
