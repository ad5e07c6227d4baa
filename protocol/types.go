// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"crypto/rand"
	"encoding/hex"
)

// IDSize is the length in bytes of every BitTorrent identifier this
// package deals with: info-hashes, peer ids, and offer ids.
const IDSize = 20

// InfoHash identifies a swarm: the SHA-1 of the torrent metadata.
type InfoHash [IDSize]byte

// PeerID identifies a BitTorrent client within a swarm.
type PeerID [IDSize]byte

// OfferID correlates a WebRTC offer with the answer a remote peer
// sends back through the tracker. Chosen uniformly at random by the
// offerer; opaque to everyone else.
type OfferID [IDSize]byte

func (h InfoHash) String() string { return hex.EncodeToString(h[:]) }
func (p PeerID) String() string   { return hex.EncodeToString(p[:]) }
func (o OfferID) String() string  { return hex.EncodeToString(o[:]) }

// IsZero reports whether the peer id is all zeroes, the placeholder
// for "identity not yet known".
func (p PeerID) IsZero() bool { return p == PeerID{} }

// InfoHashFromBytes copies a 20-byte slice into an InfoHash. Returns
// ErrBadMessage if the slice has the wrong length.
func InfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != IDSize {
		return h, ErrBadMessage
	}
	copy(h[:], b)
	return h, nil
}

// PeerIDFromBytes copies a 20-byte slice into a PeerID. Returns
// ErrBadMessage if the slice has the wrong length.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var p PeerID
	if len(b) != IDSize {
		return p, ErrBadMessage
	}
	copy(p[:], b)
	return p, nil
}

// OfferIDFromBytes copies a 20-byte slice into an OfferID. Returns
// ErrBadMessage if the slice has the wrong length.
func OfferIDFromBytes(b []byte) (OfferID, error) {
	var o OfferID
	if len(b) != IDSize {
		return o, ErrBadMessage
	}
	copy(o[:], b)
	return o, nil
}

// NewOfferID draws 20 uniformly random bytes. Callers that need
// uniqueness within a live set redraw on collision.
func NewOfferID() OfferID {
	var o OfferID
	mustRandom(o[:])
	return o
}

// peerIDPrefix is the Azureus-style client marker embedded at the
// front of generated peer ids.
const peerIDPrefix = "-WT0001-"

// GeneratePeerID produces a fresh peer id: the client prefix followed
// by random bytes.
func GeneratePeerID() PeerID {
	var p PeerID
	copy(p[:], peerIDPrefix)
	mustRandom(p[len(peerIDPrefix):])
	return p
}

// mustRandom fills b from crypto/rand. rand.Read only fails when the
// platform's entropy source is broken, which is not recoverable.
func mustRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic("protocol: reading random bytes: " + err.Error())
	}
}

// AnswerSink is the continuation attached to a remote offer: invoking
// it sends the generated answer back through the tracker that
// delivered the offer. The local peer id tells the remote peer which
// identity answered.
type AnswerSink func(local PeerID, answer Answer)

// Offer is one half of an SDP exchange. Locally generated offers leave
// AnswerSink nil; offers received from a tracker carry a sink that
// routes the answer back out on the same socket.
type Offer struct {
	ID         OfferID
	PeerID     PeerID
	SDP        string
	AnswerSink AnswerSink
}

// Answer is the response half of an SDP exchange, correlated to a
// previously emitted Offer by its OfferID.
type Answer struct {
	OfferID OfferID
	PeerID  PeerID
	SDP     string
}
