// Package compression implements the page codec used by compressed block images.
//
// A block image (e.g. a virtual SD card) is split into fixed-size pages, and
// each page is compressed on its own so that a reader can decode any page
// without touching its neighbors. Emulated SD cards are mostly empty, so most
// pages are either a single repeated byte or long stretches of one byte with
// a little data in between. A simple run-length encoding captures nearly all
// of that.
//
// Each page picks its own escape byte: the most frequent byte value in the page,
// with ties going to the lowest value. The escape byte is written first, and
// then the page is described as a sequence of runs:
//
//	E V N          N copies of V, 1 <= N <= 255
//	E V 0 Lo Hi    (Hi << 8 | Lo) copies of V, for runs of 256 or more
//	V              a literal byte, used for runs of at most three bytes
//
// A run of the escape byte itself is always written as an escape sequence, so
// the escape byte never appears as a literal and always marks the start of a
// sequence. A page that consists entirely of its escape byte compresses to that
// single byte. A run of the escape byte that extends to the end of the page is
// not written at all: the decoder starts with a page full of the escape byte,
// so whatever the stream doesn't cover is already correct.
//
// For example, with escape byte 00:
//
//	00 00 00 00 41 42 42 42 42 42 00 00 ... 00
//	00  00 00 04  41  00 42 05
//
// The thresholds (literals for runs up to three bytes, the extended form from
// 256 bytes on) are part of the format and must not change.
package compression
