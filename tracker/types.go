// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/bureau-foundation/webtorrent/protocol"
)

// RetryInterval is the reconnect hint attached to every transport and
// parse failure. The torrent engine owns the actual retry policy.
const RetryInterval = 120 * time.Second

// DefaultMinInterval is reported when the tracker omits min_interval.
const DefaultMinInterval = 60 * time.Second

// DefaultQueueCap bounds the pending outbound queue per client.
// Overflow drops the oldest message first.
const DefaultQueueCap = 256

// Event is the optional announce event field.
type Event string

const (
	EventNone      Event = ""
	EventCompleted Event = "completed"
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventPaused    Event = "paused"
)

// AnnounceRequest is one announce for one swarm, optionally carrying
// freshly generated WebRTC offers for the tracker to relay.
type AnnounceRequest struct {
	InfoHash   protocol.InfoHash
	PeerID     protocol.PeerID
	Uploaded   int64
	Downloaded int64
	Left       int64
	Corrupt    int64
	NumWant    int

	// Key is the tracker key identifying this client across address
	// changes. It is transmitted as eight uppercase hex digits.
	Key uint32

	Event  Event
	Offers []protocol.Offer
}

// Response is the scrape-style half of a tracker reply.
type Response struct {
	// Interval is the announce interval requested by the tracker,
	// clamped to the client's configured minimum.
	Interval time.Duration

	// MinInterval is the floor the tracker allows; DefaultMinInterval
	// when omitted.
	MinInterval time.Duration

	// Complete, Incomplete, and Downloaded are swarm counts, -1 when
	// the tracker omitted them.
	Complete   int
	Incomplete int
	Downloaded int
}

// Callback receives everything the tracker sends back for one swarm.
// Responses, offers, and answers are delivered from the client's read
// loop. OnTrackerError may also be invoked from the dial or write
// goroutine, or synchronously from QueueAnnounce when the request
// cannot be encoded. Implementations must not block on tracker
// operations.
type Callback interface {
	// OnTrackerResponse delivers the interval/statistics half of an
	// announce reply.
	OnTrackerResponse(resp Response)

	// OnRTCOffer delivers a remote offer. Invoking its AnswerSink
	// queues the answer on the socket the offer arrived on.
	OnRTCOffer(offer protocol.Offer)

	// OnRTCAnswer delivers a remote answer to a previously relayed
	// local offer.
	OnRTCAnswer(answer protocol.Answer)

	// OnTrackerError reports a transport or protocol failure together
	// with a retry hint.
	OnTrackerError(err error, retry time.Duration)
}

// Options configures a Client. The zero value is usable.
type Options struct {
	// UserAgent is sent on the WebSocket handshake. In anonymous mode
	// it is suppressed unless the torrent is private, where trackers
	// commonly require client identification.
	UserAgent      string
	Anonymous      bool
	PrivateTorrent bool

	// MinAnnounceInterval clamps tracker-requested intervals from
	// below. Zero means no clamping.
	MinAnnounceInterval time.Duration

	// TLSConfig overrides the dialer's TLS settings. Nil means
	// defaults; SNI always follows the tracker hostname.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the WebSocket handshake. Zero means the
	// dialer default.
	HandshakeTimeout time.Duration

	// QueueCap bounds the pending outbound queue. Zero means
	// DefaultQueueCap.
	QueueCap int

	// Logger receives dropped-message and dispatch diagnostics. Nil
	// means slog.Default().
	Logger *slog.Logger
}
