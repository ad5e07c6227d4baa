// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/webtorrent/protocol"
)

// The wire format is the WebTorrent tracker protocol: one JSON object
// per WebSocket text frame. Twenty-byte binary identifiers travel as
// JSON strings in the Latin-1 as UTF-8 convention.

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type offerPayload struct {
	OfferID string             `json:"offer_id"`
	Offer   sessionDescription `json:"offer"`
}

type announceMessage struct {
	Action     string         `json:"action"`
	InfoHash   string         `json:"info_hash"`
	PeerID     string         `json:"peer_id"`
	Uploaded   int64          `json:"uploaded"`
	Downloaded int64          `json:"downloaded"`
	Left       int64          `json:"left"`
	Corrupt    int64          `json:"corrupt"`
	NumWant    int            `json:"numwant"`
	Key        string         `json:"key"`
	Event      string         `json:"event,omitempty"`
	Offers     []offerPayload `json:"offers"`
}

type answerMessage struct {
	Action   string             `json:"action"`
	InfoHash string             `json:"info_hash"`
	OfferID  string             `json:"offer_id"`
	ToPeerID string             `json:"to_peer_id"`
	PeerID   string             `json:"peer_id"`
	Answer   sessionDescription `json:"answer"`
}

// inboundMessage is the union of everything a tracker pushes: an
// announce reply (interval and counts), a relayed offer, or a relayed
// answer. Pointer fields distinguish absent from zero.
type inboundMessage struct {
	InfoHash    string              `json:"info_hash"`
	OfferID     string              `json:"offer_id"`
	PeerID      string              `json:"peer_id"`
	Offer       *sessionDescription `json:"offer"`
	Answer      *sessionDescription `json:"answer"`
	Interval    *int64              `json:"interval"`
	MinInterval *int64              `json:"min_interval"`
	Complete    *int                `json:"complete"`
	Incomplete  *int                `json:"incomplete"`
	Downloaded  *int                `json:"downloaded"`
}

// encodeAnnounce marshals one announce frame. The offers array is
// always present, empty when the request carries none.
func encodeAnnounce(req AnnounceRequest) ([]byte, error) {
	offers := make([]offerPayload, 0, len(req.Offers))
	for _, offer := range req.Offers {
		offers = append(offers, offerPayload{
			OfferID: protocol.FromLatin1(offer.ID[:]),
			Offer:   sessionDescription{Type: "offer", SDP: offer.SDP},
		})
	}
	msg := announceMessage{
		Action:     "announce",
		InfoHash:   protocol.FromLatin1(req.InfoHash[:]),
		PeerID:     protocol.FromLatin1(req.PeerID[:]),
		Uploaded:   req.Uploaded,
		Downloaded: req.Downloaded,
		Left:       req.Left,
		Corrupt:    req.Corrupt,
		NumWant:    req.NumWant,
		Key:        fmt.Sprintf("%08X", req.Key),
		Event:      string(req.Event),
		Offers:     offers,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding announce: %w", err)
	}
	return data, nil
}

// encodeAnswer marshals one answer frame: the reply to a remote offer,
// addressed back to the offering peer.
func encodeAnswer(infoHash protocol.InfoHash, local protocol.PeerID, answer protocol.Answer) ([]byte, error) {
	msg := answerMessage{
		Action:   "announce",
		InfoHash: protocol.FromLatin1(infoHash[:]),
		OfferID:  protocol.FromLatin1(answer.OfferID[:]),
		ToPeerID: protocol.FromLatin1(answer.PeerID[:]),
		PeerID:   protocol.FromLatin1(local[:]),
		Answer:   sessionDescription{Type: "answer", SDP: answer.SDP},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding answer: %w", err)
	}
	return data, nil
}

// parseInbound decodes one frame and validates its info_hash. Every
// failure wraps protocol.ErrBadMessage.
func parseInbound(data []byte) (*inboundMessage, protocol.InfoHash, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, protocol.InfoHash{}, fmt.Errorf("%w: %v", protocol.ErrBadMessage, err)
	}
	if msg.InfoHash == "" {
		return nil, protocol.InfoHash{}, fmt.Errorf("%w: missing info_hash", protocol.ErrBadMessage)
	}
	raw, err := protocol.ToLatin1(msg.InfoHash)
	if err != nil {
		return nil, protocol.InfoHash{}, fmt.Errorf("decoding info_hash: %w", err)
	}
	hash, err := protocol.InfoHashFromBytes(raw)
	if err != nil {
		return nil, protocol.InfoHash{}, fmt.Errorf("%w: info_hash is %d bytes", protocol.ErrBadMessage, len(raw))
	}
	return &msg, hash, nil
}

// decodeID decodes one Latin-1 encoded 20-byte identifier field.
func decodeID(field, value string) ([]byte, error) {
	raw, err := protocol.ToLatin1(value)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", field, err)
	}
	if len(raw) != protocol.IDSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", protocol.ErrBadMessage, field, len(raw))
	}
	return raw, nil
}
