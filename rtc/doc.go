// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rtc drives nascent WebRTC connections from SDP exchange to an
// open data channel and presents the result as a byte stream.
//
// [Signaling] is the per-torrent coordinator: it generates batches of
// local offers on demand ([Signaling.GenerateOffers]), accepts remote
// offers and answers routed back from a tracker
// ([Signaling.ProcessOffer], [Signaling.ProcessAnswer]), and hands each
// fully negotiated data channel to the torrent engine's stream handler
// together with the remote peer id.
//
// [Stream] adapts an open, message-framed data channel into a reliable,
// ordered duplex byte stream with the same contract as a TCP socket:
// blocking Read/Write with partial reads, cancellation, deadline
// support, and endpoint queries. It implements net.Conn so the
// BitTorrent wire protocol above it does not need to know the peer is
// reachable only over WebRTC.
//
// The WebRTC engine itself (ICE, DTLS, SCTP) is a black box behind the
// [Engine], [PeerConnection], and [DataChannel] interfaces.
// [PionEngine] is the production implementation on pion/webrtc;
// [MemoryEngine] is an in-process implementation for tests, able to
// complete a full offer/answer/open cycle between two coordinators
// without touching the network.
package rtc
