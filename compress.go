package sdimage

import (
	"bufio"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
)

// CompressFile compresses the raw image at `inputPath` into a new container at
// `outputPath` using `compressor`.
//
// The input size is validated before the output file is created, so an
// [ErrBadInputSize] failure never leaves anything on disk. Any other failure
// may leave a truncated container behind; callers are responsible for
// removing it, or can use [CompressFileWithCleanup] instead.
func CompressFile(compressor ImageCompressor, inputPath, outputPath string) (Stats, error) {
	stats, _, err := compressFile(compressor, inputPath, outputPath)
	return stats, err
}

// CompressFileWithCleanup is like [CompressFile], but if compression fails
// after the output file was opened, the partial output is deleted. A failure
// before that point, such as the output path being a directory or not being
// writable, leaves whatever was at `outputPath` untouched.
func CompressFileWithCleanup(
	compressor ImageCompressor, inputPath, outputPath string,
) (Stats, error) {
	stats, opened, err := compressFile(compressor, inputPath, outputPath)
	if err != nil && opened {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			err = multierror.Append(err, removeErr)
		}
	}
	return stats, err
}

// compressFile does the work of CompressFile. `opened` is true once the output
// file exists and has been truncated.
func compressFile(
	compressor ImageCompressor, inputPath, outputPath string,
) (stats Stats, opened bool, err error) {
	input, err := os.Open(inputPath)
	if err != nil {
		return Stats{}, false, err
	}
	defer input.Close()

	info, err := input.Stat()
	if err != nil {
		return Stats{}, false, err
	}
	if !info.Mode().IsRegular() {
		return Stats{}, false, ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is not a regular file", inputPath))
	}

	err = compressor.ValidateInputSize(info.Size())
	if err != nil {
		return Stats{}, false, err
	}

	output, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Stats{}, false, err
	}
	defer func() {
		closeErr := output.Close()
		if closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()

	reader := bufio.NewReaderSize(input, compressor.PageSize())
	stats, err = compressor.Compress(reader, info.Size(), output)
	return stats, true, err
}
