package speech

import (
	"errors"
	"io"
)

// wavBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch chunk sizes after writing the payload, which rules out bytes.Buffer.
type wavBuffer struct {
	data []byte
	pos  int
}

var _ io.WriteSeeker = (*wavBuffer)(nil)

func (b *wavBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, max(end, 2*cap(b.data)))
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *wavBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, errors.New("speech: invalid seek whence")
	}
	if pos < 0 {
		return 0, errors.New("speech: seek before start of buffer")
	}
	b.pos = int(pos)
	return pos, nil
}
