package directory

import (
	"fmt"

	"github.com/dargueta/sdimage"
)

const (
	MaxUint24 = 0xFFFFFF
	MaxUint32 = 0xFFFFFFFF
)

func fieldOverflow(value uint64, width int) error {
	return sdimage.ErrFieldOverflow.WithMessage(
		fmt.Sprintf("%d (%#x) does not fit in %d bits", value, value, width*8))
}

// PutUint32LE writes `value` to the first four bytes of `dst` in little-endian
// order. It fails with [sdimage.ErrFieldOverflow] and leaves `dst` untouched if
// the value needs more than 32 bits.
func PutUint32LE(dst []byte, value uint64) error {
	if value > MaxUint32 {
		return fieldOverflow(value, 4)
	}
	dst[0] = byte(value)
	dst[1] = byte(value >> 8)
	dst[2] = byte(value >> 16)
	dst[3] = byte(value >> 24)
	return nil
}

// PutUint24LE is the 3-byte counterpart of [PutUint32LE].
func PutUint24LE(dst []byte, value uint64) error {
	if value > MaxUint24 {
		return fieldOverflow(value, 3)
	}
	dst[0] = byte(value)
	dst[1] = byte(value >> 8)
	dst[2] = byte(value >> 16)
	return nil
}

// PutUint24BE writes a 3-byte big-endian value, as used by the sector-dedup
// format.
func PutUint24BE(dst []byte, value uint64) error {
	if value > MaxUint24 {
		return fieldOverflow(value, 3)
	}
	dst[0] = byte(value >> 16)
	dst[1] = byte(value >> 8)
	dst[2] = byte(value)
	return nil
}

func Uint24LE(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16
}

func Uint24BE(src []byte) uint32 {
	return uint32(src[0])<<16 | uint32(src[1])<<8 | uint32(src[2])
}
