// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/webtorrent/lib/clock"
	"github.com/bureau-foundation/webtorrent/protocol"
)

// DefaultNegotiationTimeout bounds how long a nascent connection may
// sit in the table without reaching an open data channel.
const DefaultNegotiationTimeout = 30 * time.Second

// StreamHandler receives each fully negotiated peer as an open byte
// stream together with the identity the remote side announced.
type StreamHandler func(peer protocol.PeerID, stream *Stream)

// OffersHandler receives the final offer list of one GenerateOffers
// call. It fires exactly once per call, possibly with fewer offers
// than requested when some connections failed to gather.
type OffersHandler func(offers []protocol.Offer)

// SignalingOptions configures a Signaling coordinator. The zero value
// is usable.
type SignalingOptions struct {
	// STUNServers overrides the engine's candidate gathering servers.
	// Empty means the engine default.
	STUNServers []string

	// NegotiationTimeout replaces DefaultNegotiationTimeout when
	// positive.
	NegotiationTimeout time.Duration

	// Clock drives connection deadlines. Nil means the real clock.
	Clock clock.Clock

	// Logger receives drop and failure events. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Signaling is the per-torrent coordinator. It owns a table of nascent
// connections keyed by offer id, drives each one from SDP exchange to
// an open data channel, and hands the result to the stream handler.
//
// All methods are safe for concurrent use. Engine callbacks re-enter
// the coordinator through the same mutex, so handler invocations
// always happen outside it.
type Signaling struct {
	engine  Engine
	handler StreamHandler

	stunServers []string
	timeout     time.Duration
	clk         clock.Clock
	logger      *slog.Logger

	mu          sync.Mutex
	connections map[protocol.OfferID]*connection
	batches     []*offerBatch
	closed      bool
}

// connection is one nascent peer, tracked from offer id allocation (or
// remote offer arrival) until handoff, failure, or deadline.
type connection struct {
	offerID protocol.OfferID
	pc      PeerConnection

	// dc pins the locally created data channel so the engine keeps it
	// alive through negotiation. Remote-initiated channels replace it
	// on arrival.
	dc DataChannel

	// localPeerID is the identity minted for a locally offered
	// connection; it travels with the emitted offer.
	localPeerID protocol.PeerID

	// peerID is the remote identity, recorded from the processed
	// remote offer or the matched answer.
	peerID    protocol.PeerID
	hasPeerID bool

	// batch is the owning batch of a locally offered connection and
	// nil for a remote offer. offerEmitted records that the offer has
	// been added to the batch.
	batch        *offerBatch
	offerEmitted bool

	deadline *clock.Timer
}

// offerBatch accumulates the offers of one GenerateOffers call. It is
// complete when successes plus failures reach the target.
type offerBatch struct {
	target  int
	failed  int
	offers  []protocol.Offer
	handler OffersHandler
	fired   bool
}

func (b *offerBatch) complete() bool {
	return len(b.offers)+b.failed >= b.target
}

// NewSignaling builds a coordinator on the given engine. Streams for
// opened channels are delivered to handler.
func NewSignaling(engine Engine, handler StreamHandler, opts SignalingOptions) *Signaling {
	timeout := opts.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Signaling{
		engine:      engine,
		handler:     handler,
		stunServers: opts.STUNServers,
		timeout:     timeout,
		clk:         clk,
		logger:      logger,
		connections: make(map[protocol.OfferID]*connection),
	}
}

// GenerateOffers starts negotiation for up to n new outbound peers.
// handler fires exactly once with the offers whose SDP gathering
// succeeded; connections that fail or time out before gathering shrink
// the list instead of stalling the batch. Batches resolve in the order
// they were requested.
//
// n = 0 fires the handler immediately with an empty list.
func (s *Signaling) GenerateOffers(n int, handler OffersHandler) {
	if n <= 0 {
		handler(nil)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		handler(nil)
		return
	}

	batch := &offerBatch{target: n, handler: handler}
	s.batches = append(s.batches, batch)

	conns := make([]*connection, 0, n)
	for i := 0; i < n; i++ {
		conn, err := s.newConnectionLocked(batch)
		if err != nil {
			s.logger.Warn("peer connection setup failed", "error", err)
			batch.failed++
			continue
		}
		conns = append(conns, conn)
	}
	fire := s.popBatchesLocked()
	s.mu.Unlock()

	runHandlers(fire)

	// Channel creation triggers offer generation. Done outside the
	// lock: engines may fire callbacks synchronously.
	for _, conn := range conns {
		dc, err := conn.pc.CreateDataChannel(DataChannelLabel)
		if err != nil {
			s.logger.Warn("data channel creation failed",
				"offer_id", conn.offerID, "error", err)
			s.connectionFailed(conn.offerID)
			continue
		}
		s.channelReceived(conn.offerID, dc)
	}
}

// newConnectionLocked allocates a fresh offer id, builds the peer
// connection, inserts the table entry, and arms its deadline.
func (s *Signaling) newConnectionLocked(batch *offerBatch) (*connection, error) {
	var id protocol.OfferID
	for {
		id = protocol.NewOfferID()
		if _, exists := s.connections[id]; !exists {
			break
		}
	}

	pc, err := s.engine.NewPeerConnection(Config{STUNServers: s.stunServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	conn := &connection{
		offerID:     id,
		pc:          pc,
		batch:       batch,
		localPeerID: protocol.GeneratePeerID(),
	}
	s.connections[id] = conn
	s.armLocked(conn)

	pc.OnGatheringComplete(func(localSDP string) {
		s.offerGathered(id, localSDP)
	})
	pc.OnStateChange(func(state State) {
		if state == StateFailed {
			s.connectionFailed(id)
		}
	})
	pc.OnDataChannel(func(dc DataChannel) {
		s.channelReceived(id, dc)
	})
	return conn, nil
}

// ProcessOffer accepts a remote offer delivered by a tracker. The
// generated answer is dispatched through the offer's sink with a
// freshly minted local peer id. Offers whose id collides with a live
// connection are dropped.
func (s *Signaling) ProcessOffer(offer protocol.Offer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.connections[offer.ID]; exists {
		s.mu.Unlock()
		s.logger.Debug("dropping remote offer with live offer id",
			"offer_id", offer.ID)
		return
	}

	pc, err := s.engine.NewPeerConnection(Config{STUNServers: s.stunServers})
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("peer connection setup failed", "error", err)
		return
	}

	id := offer.ID
	conn := &connection{
		offerID:   id,
		pc:        pc,
		peerID:    offer.PeerID,
		hasPeerID: true,
	}
	s.connections[id] = conn
	s.armLocked(conn)
	s.mu.Unlock()

	sink := offer.AnswerSink
	remote := offer.PeerID
	pc.OnGatheringComplete(func(localSDP string) {
		if sink == nil {
			return
		}
		local := protocol.GeneratePeerID()
		sink(local, protocol.Answer{OfferID: id, PeerID: remote, SDP: localSDP})
	})
	pc.OnStateChange(func(state State) {
		if state == StateFailed {
			s.connectionFailed(id)
		}
	})
	pc.OnDataChannel(func(dc DataChannel) {
		s.channelReceived(id, dc)
	})

	// Applying the offer starts answer generation.
	if err := pc.SetRemoteDescription(Description{Type: DescriptionOffer, SDP: offer.SDP}); err != nil {
		s.logger.Warn("setting remote offer failed",
			"offer_id", id, "error", err)
		s.connectionFailed(id)
	}
}

// ProcessAnswer routes a remote answer to the connection that emitted
// the matching offer. Answers for unknown offer ids are stale and
// silently dropped; a second answer for an already-answered connection
// is a duplicate and also dropped.
func (s *Signaling) ProcessAnswer(answer protocol.Answer) {
	s.mu.Lock()
	conn, ok := s.connections[answer.OfferID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	if conn.hasPeerID {
		s.mu.Unlock()
		s.logger.Debug("dropping duplicate answer", "offer_id", answer.OfferID)
		return
	}
	conn.peerID = answer.PeerID
	conn.hasPeerID = true
	pc := conn.pc
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(Description{Type: DescriptionAnswer, SDP: answer.SDP}); err != nil {
		s.logger.Warn("setting remote answer failed",
			"offer_id", answer.OfferID, "error", err)
		s.connectionFailed(answer.OfferID)
	}
}

// Close destroys every pending connection and fires outstanding batch
// handlers with whatever offers they had accumulated.
func (s *Signaling) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	conns := make([]*connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connections = make(map[protocol.OfferID]*connection)

	var fire []*offerBatch
	for _, batch := range s.batches {
		if !batch.fired {
			batch.fired = true
			fire = append(fire, batch)
		}
	}
	s.batches = nil
	s.mu.Unlock()

	for _, conn := range conns {
		if conn.deadline != nil {
			conn.deadline.Stop()
		}
		conn.pc.Close()
	}
	runHandlers(fire)
	return nil
}

// PendingConnections reports the number of connections still
// negotiating.
func (s *Signaling) PendingConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// armLocked starts the negotiation deadline for conn.
func (s *Signaling) armLocked(conn *connection) {
	id := conn.offerID
	conn.deadline = s.clk.AfterFunc(s.timeout, func() {
		s.logger.Debug("negotiation deadline expired", "offer_id", id)
		s.connectionFailed(id)
	})
}

// offerGathered records a completed local SDP on the owning batch.
// Fires at most once per connection; late callbacks after failure or
// handoff find no table entry and do nothing.
func (s *Signaling) offerGathered(id protocol.OfferID, localSDP string) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	if !ok || conn.offerEmitted || conn.batch == nil {
		s.mu.Unlock()
		return
	}
	conn.offerEmitted = true
	conn.batch.offers = append(conn.batch.offers, protocol.Offer{
		ID:     id,
		PeerID: conn.localPeerID,
		SDP:    localSDP,
	})
	fire := s.popBatchesLocked()
	s.mu.Unlock()

	runHandlers(fire)
}

// connectionFailed removes a connection after a Failed state, a setup
// error, or deadline expiry. A locally offered connection that never
// emitted its offer counts as a batch failure so the batch can still
// complete.
func (s *Signaling) connectionFailed(id protocol.OfferID) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, id)
	if conn.deadline != nil {
		conn.deadline.Stop()
	}

	var fire []*offerBatch
	if conn.batch != nil && !conn.offerEmitted {
		conn.batch.failed++
		fire = s.popBatchesLocked()
	}
	s.mu.Unlock()

	conn.pc.Close()
	runHandlers(fire)
}

// channelReceived pins a channel on its connection and waits for it to
// open. It handles both the locally created channel of an outbound
// offer and the remote-initiated channel arriving on an answered
// connection.
func (s *Signaling) channelReceived(id protocol.OfferID, dc DataChannel) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		dc.Close()
		return
	}
	conn.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.channelOpened(id, dc)
	})
}

// channelOpened promotes a connection to a stream and removes it from
// the table in one step.
func (s *Signaling) channelOpened(id protocol.OfferID, dc DataChannel) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if !conn.hasPeerID {
		s.mu.Unlock()
		s.logger.Warn("data channel opened before peer identity arrived; dropping",
			"offer_id", id)
		return
	}
	delete(s.connections, id)
	if conn.deadline != nil {
		conn.deadline.Stop()
	}
	peer := conn.peerID
	pc := conn.pc
	s.mu.Unlock()

	s.handler(peer, NewStream(pc, dc, s.clk))
}

// popBatchesLocked pops completed batches from the head of the queue,
// preserving request order, and returns them for firing outside the
// lock.
func (s *Signaling) popBatchesLocked() []*offerBatch {
	var fire []*offerBatch
	for len(s.batches) > 0 && s.batches[0].complete() {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		if !batch.fired {
			batch.fired = true
			fire = append(fire, batch)
		}
	}
	if len(s.batches) == 0 {
		s.batches = nil
	}
	return fire
}

func runHandlers(batches []*offerBatch) {
	for _, batch := range batches {
		batch.handler(batch.offers)
	}
}
