// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker speaks the WebTorrent tracker protocol: JSON frames
// over a single persistent WebSocket that carry both conventional
// announce traffic and the WebRTC offer/answer exchange that makes
// browser peers reachable.
//
// One [Client] serves many swarms. Callers register a [Callback] per
// info-hash; announces are queued with [Client.QueueAnnounce] and
// answers to remote offers with [Client.QueueAnswer]. Writes are
// strictly serialized, inbound frames are dispatched by info-hash
// through the callback table, and transport failures notify every
// interested callback with a retry hint and return the client to idle,
// ready for a future [Client.Start].
//
// Binary identifiers cross the wire as JSON strings in the Latin-1 as
// UTF-8 convention; the codec lives in the protocol package.
package tracker
