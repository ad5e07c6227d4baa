// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "errors"

// Stable error kinds emitted by the core. Callers classify failures
// with errors.Is; wrapped variants carry context via fmt.Errorf("%w").
var (
	// ErrNotConnected reports an operation on a closed stream or
	// socket.
	ErrNotConnected = errors.New("not connected")

	// ErrOperationAborted reports handlers cancelled by Close or
	// Cancel while an operation was pending.
	ErrOperationAborted = errors.New("operation aborted")

	// ErrOperationNotSupported reports a second concurrent read or
	// write on a stream, or a WebRTC engine that does not expose an
	// endpoint address.
	ErrOperationNotSupported = errors.New("operation not supported")

	// ErrAddressFamilyNotSupported reports a malformed "ip:port"
	// string from the WebRTC engine.
	ErrAddressFamilyNotSupported = errors.New("address family not supported")

	// ErrConnectionRefused classifies a WebRTC connection that
	// reached the Failed state before its data channel opened. The
	// signaling coordinator removes such a connection without
	// returning this error to any caller.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrTimedOut classifies a signaling connection that missed its
	// negotiation deadline. The signaling coordinator removes such a
	// connection without returning this error to any caller.
	ErrTimedOut = errors.New("timed out")

	// ErrBadMessage reports a malformed tracker message: unparseable
	// JSON, a missing or mis-sized info_hash, or binary fields that
	// are not valid Latin-1-as-UTF-8.
	ErrBadMessage = errors.New("bad message")
)
