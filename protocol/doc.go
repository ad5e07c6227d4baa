// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the shared vocabulary of the WebTorrent
// peer-discovery core: the 20-byte identifier types ([InfoHash],
// [PeerID], [OfferID]), the signaling records exchanged with trackers
// ([Offer], [Answer]), the error taxonomy every layer reports against,
// and the Latin-1-as-UTF-8 codec the WebTorrent wire format uses to
// carry binary identifiers inside JSON strings ([FromLatin1],
// [ToLatin1]).
//
// The package has no dependencies beyond the standard library so the
// rtc and tracker layers can both build on it.
package protocol
