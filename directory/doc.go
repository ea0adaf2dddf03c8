// Package directory implements the page directories of compressed block images.
//
// A directory tells a reader where each compressed page lives without having
// to decode the pages in front of it. Two layouts exist:
//
//   - The RLE directory stores the compressed size of every page as a 3-byte
//     little-endian entry. Pages that are entirely null bytes have size 0 and
//     aren't stored at all. Runs of identical small sizes (below 0x80, which
//     covers every uniform page) collapse into a single entry whose top byte
//     has its high bit set: the low 16 bits are the run length and the low 7
//     bits of the top byte are the repeated size. Readers expand it once and
//     compute prefix sums to find page offsets.
//
//   - The offset table stores the absolute file offset of every page, plus one
//     trailing offset marking the end of the data region, as 4-byte
//     little-endian values. The size of page i is offset[i+1] - offset[i].
//     Every page is stored, including null pages.
//
// Both layouts refuse to write a value that doesn't fit in its field.
package directory
