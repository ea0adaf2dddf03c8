package compression

// ByteRun represents a single run of a particular byte value.
type ByteRun struct {
	// Byte is the byte value for this run.
	Byte byte
	// RunLength gives the number of times the byte occurs in the run (not the
	// number of times it's repeated).
	//
	// A valid run will always have this be 1 or greater. A value less than 1
	// indicates the end of the page was reached.
	RunLength int
}

// InvalidRLERun is returned by [RunLengthGrouper.GetNextRun] once the page is
// exhausted.
var InvalidRLERun = ByteRun{Byte: 0, RunLength: 0}

// RunLengthGrouper splits a page into maximal runs of a single byte value.
type RunLengthGrouper struct {
	data     []byte
	position int
}

func NewRunLengthGrouper(data []byte) *RunLengthGrouper {
	return &RunLengthGrouper{data: data}
}

// Offset returns the index of the first byte of the next run.
func (grouper *RunLengthGrouper) Offset() int {
	return grouper.position
}

// AtEnd returns true if every byte of the page has been returned in a run.
func (grouper *RunLengthGrouper) AtEnd() bool {
	return grouper.position >= len(grouper.data)
}

// GetNextRun returns a [ByteRun] for the next byte or run of byte values in the
// page. Once the page is exhausted it returns [InvalidRLERun].
func (grouper *RunLengthGrouper) GetNextRun() ByteRun {
	if grouper.AtEnd() {
		return InvalidRLERun
	}

	start := grouper.position
	firstByte := grouper.data[start]
	end := start + 1
	for end < len(grouper.data) && grouper.data[end] == firstByte {
		end++
	}

	grouper.position = end
	return ByteRun{Byte: firstByte, RunLength: end - start}
}
