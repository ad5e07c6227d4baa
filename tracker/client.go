// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/webtorrent/protocol"
)

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
)

// queuedMessage is one pending outbound frame. Announces carry the
// originating callback so it can become the current requester when the
// frame is written; answers are fire-and-forget.
type queuedMessage struct {
	payload  []byte
	infoHash protocol.InfoHash
	callback Callback
}

// Client multiplexes announce and offer/answer traffic for many swarms
// over one WebSocket. All methods are safe for concurrent use.
//
// The client never reconnects on its own: a transport failure notifies
// every interested callback with a retry hint, drains the queue, and
// returns to idle. Callers decide when to Start again.
type Client struct {
	url      *url.URL
	opts     Options
	queueCap int
	logger   *slog.Logger

	mu sync.Mutex

	// generation invalidates goroutines from previous connection
	// attempts. Every Close, failure, and Start bumps it; in-flight
	// readers and writers compare before touching shared state.
	generation int

	state   connState
	conn    *websocket.Conn
	sending bool
	queue   []queuedMessage

	// callbacks routes inbound frames by info-hash. Entries persist
	// across reconnects until Deregister.
	callbacks map[protocol.InfoHash]Callback

	// requester is the callback of the most recently written
	// announce; malformed replies that cannot be routed by hash go
	// here.
	requester Callback
}

// NewClient validates the tracker URL and builds an idle client.
// Only wss URLs are accepted.
func NewClient(rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker URL: %w", err)
	}
	if u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported tracker URL scheme %q (wss only)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("tracker URL %q has no host", rawURL)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	queueCap := opts.QueueCap
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:       u,
		opts:      opts,
		queueCap:  queueCap,
		logger:    logger,
		callbacks: make(map[protocol.InfoHash]Callback),
	}, nil
}

// URL reports the tracker endpoint this client announces to.
func (c *Client) URL() string { return c.url.String() }

// Register routes inbound frames for hash to cb before any announce
// has been written, so unsolicited offers are not lost.
func (c *Client) Register(hash protocol.InfoHash, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[hash] = cb
}

// Deregister removes the routing entry for hash. Frames for it are
// dropped from then on.
func (c *Client) Deregister(hash protocol.InfoHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.callbacks[hash]; ok && c.requester == cb {
		c.requester = nil
	}
	delete(c.callbacks, hash)
}

// Start begins connecting unless the client is already open or
// connecting. The queue drains once the socket opens.
func (c *Client) Start() {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return
	}
	c.state = stateConnecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.connect(gen)
}

// Close tears down the socket and drops the pending queue silently.
// Registered callbacks persist, so a later Start resumes routing.
func (c *Client) Close() error {
	c.mu.Lock()
	c.generation++
	c.state = stateIdle
	c.sending = false
	conn := c.conn
	c.conn = nil
	c.queue = nil
	c.requester = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// QueueAnnounce enqueues one announce frame. cb becomes the current
// requester when the frame is written and is registered for hash
// routing from that point on.
func (c *Client) QueueAnnounce(req AnnounceRequest, cb Callback) {
	payload, err := encodeAnnounce(req)
	if err != nil {
		if cb != nil {
			cb.OnTrackerError(err, RetryInterval)
		}
		return
	}
	c.enqueue(queuedMessage{payload: payload, infoHash: req.InfoHash, callback: cb})
}

// QueueAnswer enqueues the reply to a remote offer. Answers carry no
// callback; delivery failures surface only through transport errors.
func (c *Client) QueueAnswer(hash protocol.InfoHash, local protocol.PeerID, answer protocol.Answer) {
	payload, err := encodeAnswer(hash, local, answer)
	if err != nil {
		c.logger.Warn("dropping unencodable answer", "info_hash", hash, "error", err)
		return
	}
	c.enqueue(queuedMessage{payload: payload, infoHash: hash})
}

func (c *Client) enqueue(msg queuedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) >= c.queueCap {
		dropped := c.queue[0]
		c.queue = c.queue[1:]
		c.logger.Warn("outbound queue full, dropping oldest message",
			"info_hash", dropped.infoHash)
	}
	c.queue = append(c.queue, msg)
	c.sendPendingLocked(c.generation)
}

// connect dials the tracker. Stale generations abandon their socket.
func (c *Client) connect(gen int) {
	dialer := websocket.Dialer{
		TLSClientConfig:  c.opts.TLSConfig,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	header := http.Header{}
	if ua := c.opts.UserAgent; ua != "" && (!c.opts.Anonymous || c.opts.PrivateTorrent) {
		header.Set("User-Agent", ua)
	}

	conn, resp, err := dialer.Dial(c.url.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.transportFailure(gen, fmt.Errorf("tracker dial %s: %w", c.url, err))
		return
	}

	c.mu.Lock()
	if gen != c.generation || c.state != stateConnecting {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = stateOpen
	c.sendPendingLocked(gen)
	c.mu.Unlock()

	go c.readLoop(gen, conn)
}

// sendPendingLocked pops the queue head and starts its write, unless a
// write is already in flight or the socket is not open. Popping an
// announce promotes its callback to current requester and registers it
// in the routing table.
func (c *Client) sendPendingLocked(gen int) {
	if gen != c.generation || c.state != stateOpen || c.sending || len(c.queue) == 0 {
		return
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	if msg.callback != nil {
		c.requester = msg.callback
		c.callbacks[msg.infoHash] = msg.callback
	}
	c.sending = true
	go c.write(gen, c.conn, msg.payload)
}

func (c *Client) write(gen int, conn *websocket.Conn, payload []byte) {
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.transportFailure(gen, fmt.Errorf("tracker write: %w", err))
		return
	}
	c.mu.Lock()
	if gen == c.generation {
		c.sending = false
		c.sendPendingLocked(gen)
	}
	c.mu.Unlock()
}

// readLoop reads one frame at a time and dispatches it fully before
// issuing the next read.
func (c *Client) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.transportFailure(gen, fmt.Errorf("tracker read: %w", err))
			return
		}
		c.dispatch(gen, data)
	}
}

// dispatch routes one inbound frame. Parse failures go to the current
// requester; frames for unregistered info-hashes are dropped. A single
// frame may carry an offer, an answer, and an announce reply in any
// combination.
func (c *Client) dispatch(gen int, data []byte) {
	msg, hash, err := parseInbound(data)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if err != nil {
		requester := c.requester
		c.mu.Unlock()
		c.logger.Warn("malformed tracker message", "error", err)
		if requester != nil {
			requester.OnTrackerError(err, RetryInterval)
		}
		return
	}
	cb := c.callbacks[hash]
	c.mu.Unlock()

	if cb == nil {
		c.logger.Debug("dropping message for unregistered info hash", "info_hash", hash)
		return
	}

	if msg.Offer != nil {
		c.deliverOffer(cb, hash, msg)
	}
	if msg.Answer != nil {
		c.deliverAnswer(cb, msg)
	}
	if msg.Interval != nil {
		cb.OnTrackerResponse(c.buildResponse(msg))
	}
}

func (c *Client) deliverOffer(cb Callback, hash protocol.InfoHash, msg *inboundMessage) {
	rawID, err := decodeID("offer_id", msg.OfferID)
	if err != nil {
		cb.OnTrackerError(err, RetryInterval)
		return
	}
	rawPeer, err := decodeID("peer_id", msg.PeerID)
	if err != nil {
		cb.OnTrackerError(err, RetryInterval)
		return
	}
	id, _ := protocol.OfferIDFromBytes(rawID)
	peer, _ := protocol.PeerIDFromBytes(rawPeer)

	cb.OnRTCOffer(protocol.Offer{
		ID:     id,
		PeerID: peer,
		SDP:    msg.Offer.SDP,
		AnswerSink: func(local protocol.PeerID, answer protocol.Answer) {
			c.QueueAnswer(hash, local, answer)
		},
	})
}

func (c *Client) deliverAnswer(cb Callback, msg *inboundMessage) {
	rawID, err := decodeID("offer_id", msg.OfferID)
	if err != nil {
		cb.OnTrackerError(err, RetryInterval)
		return
	}
	rawPeer, err := decodeID("peer_id", msg.PeerID)
	if err != nil {
		cb.OnTrackerError(err, RetryInterval)
		return
	}
	id, _ := protocol.OfferIDFromBytes(rawID)
	peer, _ := protocol.PeerIDFromBytes(rawPeer)

	cb.OnRTCAnswer(protocol.Answer{OfferID: id, PeerID: peer, SDP: msg.Answer.SDP})
}

func (c *Client) buildResponse(msg *inboundMessage) Response {
	interval := time.Duration(*msg.Interval) * time.Second
	if min := c.opts.MinAnnounceInterval; interval < min {
		interval = min
	}
	minInterval := DefaultMinInterval
	if msg.MinInterval != nil {
		minInterval = time.Duration(*msg.MinInterval) * time.Second
	}
	resp := Response{
		Interval:    interval,
		MinInterval: minInterval,
		Complete:    -1,
		Incomplete:  -1,
		Downloaded:  -1,
	}
	if msg.Complete != nil {
		resp.Complete = *msg.Complete
	}
	if msg.Incomplete != nil {
		resp.Incomplete = *msg.Incomplete
	}
	if msg.Downloaded != nil {
		resp.Downloaded = *msg.Downloaded
	}
	return resp
}

// transportFailure tears down the connection, notifies every
// registered and queued callback once with the retry hint, and leaves
// the client idle.
func (c *Client) transportFailure(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.state = stateIdle
	c.sending = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	notify := make(map[Callback]bool)
	for _, cb := range c.callbacks {
		if cb != nil {
			notify[cb] = true
		}
	}
	for _, msg := range c.queue {
		if msg.callback != nil {
			notify[msg.callback] = true
		}
	}
	c.queue = nil
	c.requester = nil
	c.mu.Unlock()

	c.logger.Warn("tracker transport failure", "url", c.url.String(), "error", err)
	for cb := range notify {
		cb.OnTrackerError(err, RetryInterval)
	}
}
