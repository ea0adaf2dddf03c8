package sdimage

import (
	"errors"
	"fmt"
	"io"
)

// WriteFull writes all of `data` to `output`, failing with [ErrShortWrite] if
// the stream accepts fewer bytes.
func WriteFull(output io.Writer, data []byte) error {
	n, err := output.Write(data)
	if n < len(data) {
		if err == nil {
			err = io.ErrShortWrite
		}
		return ErrShortWrite.WithMessage(
			fmt.Sprintf("wrote %d of %d bytes", n, len(data))).Wrap(err)
	}
	return err
}

// ReadFullAt fills `buffer` from `source` starting at `offset`, failing with
// [ErrShortRead] if the source ends first.
func ReadFullAt(source io.ReaderAt, buffer []byte, offset int64) error {
	n, err := source.ReadAt(buffer, offset)
	if n == len(buffer) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return ErrShortRead.WithMessage(
		fmt.Sprintf("read %d of %d bytes at offset %d", n, len(buffer), offset)).Wrap(err)
}
