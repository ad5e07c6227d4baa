// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

// DefaultSTUNServer is the fixed STUN server used for candidate
// gathering when the caller does not supply one.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// DataChannelLabel is the label every WebTorrent data channel carries.
const DataChannelLabel = "webtorrent"

// Config selects the ICE servers for a new peer connection.
type Config struct {
	// STUNServers are "stun:host:port" URLs. Empty means
	// DefaultSTUNServer.
	STUNServers []string
}

// DescriptionType tags a session description as one half of the SDP
// exchange.
type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is an SDP payload plus its role in the exchange. The SDP
// string is opaque to this package.
type Description struct {
	Type DescriptionType
	SDP  string
}

// State is the coarse peer connection state the coordinator reacts to.
// The engine may expose finer states; only Failed drives decisions
// here.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine creates peer connections. It is the only way this package
// touches a WebRTC implementation.
type Engine interface {
	NewPeerConnection(config Config) (PeerConnection, error)
}

// PeerConnection is the black-box surface of one nascent WebRTC
// connection. Negotiation is vanilla ICE: the engine gathers all
// candidates before reporting the local description, so signaling needs
// exactly one round-trip.
//
// Creating a data channel triggers offer generation; setting a remote
// offer triggers answer generation. Either way the complete local
// description arrives through the OnGatheringComplete callback.
//
// All callbacks may fire on goroutines owned by the engine. Callers
// must do their own serialization and must tolerate callbacks arriving
// after Close.
type PeerConnection interface {
	// CreateDataChannel opens a channel with the given label and
	// starts negotiation if none is in progress.
	CreateDataChannel(label string) (DataChannel, error)

	// SetRemoteDescription applies the remote half of the exchange.
	// Applying an offer starts local answer generation.
	SetRemoteDescription(desc Description) error

	// OnGatheringComplete registers the callback receiving the
	// complete local description once candidate gathering finishes.
	OnGatheringComplete(fn func(localSDP string))

	// OnStateChange registers the connection state callback.
	OnStateChange(fn func(State))

	// OnDataChannel registers the callback for channels opened by the
	// remote peer.
	OnDataChannel(fn func(DataChannel))

	// LocalAddress and RemoteAddress report the selected candidate
	// pair as "ip:port" strings. ok is false when the engine has not
	// selected a pair (or does not expose one).
	LocalAddress() (addr string, ok bool)
	RemoteAddress() (addr string, ok bool)

	Close() error
}

// DataChannel is a reliable, ordered, message-framed channel.
type DataChannel interface {
	Label() string

	// OnOpen registers the callback fired once the channel is open
	// end to end. A channel received via OnDataChannel may already be
	// open; the engine still fires the callback.
	OnOpen(fn func())

	// OnMessage registers the callback receiving inbound messages.
	// The engine may reuse the buffer after the callback returns.
	OnMessage(fn func(data []byte))

	// OnClose registers the callback fired when the channel closes,
	// locally or remotely.
	OnClose(fn func())

	// Send queues one message for transmission.
	Send(data []byte) error

	// BufferedInbound reports bytes received by the engine but not
	// yet delivered through OnMessage. Engines that deliver eagerly
	// report zero.
	BufferedInbound() int

	Close() error
}
