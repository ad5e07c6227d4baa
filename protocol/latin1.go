// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strings"
)

// The WebTorrent wire format transmits raw 20-byte identifiers inside
// JSON strings by mapping each byte one-to-one onto the Unicode code
// points U+0000..U+00FF and encoding the result as UTF-8. FromLatin1
// and ToLatin1 are exact inverses for every byte sequence.

// FromLatin1 encodes raw bytes as a UTF-8 string, one code point per
// byte. The output is at most twice the input length.
func FromLatin1(data []byte) string {
	var b strings.Builder
	b.Grow(len(data) * 2)
	for _, c := range data {
		if c < 0x80 {
			b.WriteByte(c)
		} else {
			b.WriteByte(0xC0 | c>>6)
			b.WriteByte(0x80 | c&0x3F)
		}
	}
	return b.String()
}

// ToLatin1 decodes a UTF-8 string back into raw bytes, one byte per
// code point. It fails with an error wrapping ErrBadMessage when the
// input is not strict UTF-8 (1..4 byte sequences, no overlong forms),
// is truncated mid-sequence, or contains a code point above 0xFF.
func ToLatin1(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		c := s[i]

		var size int
		var cp uint32
		switch {
		case c < 0x80:
			out = append(out, c)
			i++
			continue
		case c&0xE0 == 0xC0:
			size, cp = 2, uint32(c&0x1F)
		case c&0xF0 == 0xE0:
			size, cp = 3, uint32(c&0x0F)
		case c&0xF8 == 0xF0:
			size, cp = 4, uint32(c&0x07)
		default:
			// Stray continuation byte or a 5/6-byte leading byte;
			// neither is valid modern UTF-8.
			return nil, fmt.Errorf("%w: invalid UTF-8 byte 0x%02X at offset %d", ErrBadMessage, c, i)
		}

		if i+size > len(s) {
			return nil, fmt.Errorf("%w: truncated UTF-8 sequence at offset %d", ErrBadMessage, i)
		}
		for j := 1; j < size; j++ {
			cc := s[i+j]
			if cc&0xC0 != 0x80 {
				return nil, fmt.Errorf("%w: invalid UTF-8 continuation byte 0x%02X at offset %d", ErrBadMessage, cc, i+j)
			}
			cp = cp<<6 | uint32(cc&0x3F)
		}

		if overlong(size, cp) {
			return nil, fmt.Errorf("%w: overlong UTF-8 sequence at offset %d", ErrBadMessage, i)
		}
		if cp > 0xFF {
			return nil, fmt.Errorf("%w: code point U+%04X outside latin1 range", ErrBadMessage, cp)
		}

		out = append(out, byte(cp))
		i += size
	}
	return out, nil
}

// overlong reports whether cp has a shorter valid encoding than the
// sequence length it arrived in.
func overlong(size int, cp uint32) bool {
	switch size {
	case 2:
		return cp < 0x80
	case 3:
		return cp < 0x800
	default:
		return cp < 0x10000
	}
}
