// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wson

import "unicode/utf8"

const (
	surrMin     = 0xd800
	surrHighMax = 0xdbff
	surrLowMin  = 0xdc00
	surrMax     = 0xdfff
	surrSelf    = 0x10000
)

// EncodeUTF16 converts a Go string to UTF-16. Surrogate code points stored
// in WTF-8 form (three byte sequences ED A0..BF xx) are emitted as the
// surrogate unit they encode; any other invalid byte becomes U+FFFD.
func EncodeUTF16(s string) []uint16 {
	u := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			u = append(u, uint16(c))
			i++
			continue
		}
		if c == 0xed && i+2 < len(s) && s[i+1] >= 0xa0 && s[i+1] <= 0xbf && s[i+2]&0xc0 == 0x80 {
			u = append(u, uint16(0xd000|uint16(s[i+1]&0x3f)<<6|uint16(s[i+2]&0x3f)))
			i += 3
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r >= surrSelf {
			r -= surrSelf
			u = append(u, uint16(surrMin+(r>>10)&0x3ff), uint16(surrLowMin+r&0x3ff))
			continue
		}
		u = append(u, uint16(r))
	}
	return u
}

// DecodeUTF16 converts UTF-16 units to a Go string. Valid pairs become the
// code point they encode; an unpaired surrogate is written in WTF-8 form so
// EncodeUTF16 restores the identical unit.
func DecodeUTF16(u []uint16) string {
	b := make([]byte, 0, len(u))
	for i := 0; i < len(u); i++ {
		c := rune(u[i])
		switch {
		case c < surrMin || c > surrMax:
			b = utf8.AppendRune(b, c)
		case c <= surrHighMax && i+1 < len(u) && u[i+1] >= surrLowMin && u[i+1] <= surrMax:
			r := (c-surrMin)<<10 | (rune(u[i+1]) - surrLowMin) + surrSelf
			b = utf8.AppendRune(b, r)
			i++
		default:
			b = append(b, 0xed, byte(0x80|(c>>6)&0x3f), byte(0x80|c&0x3f))
		}
	}
	return string(b)
}
