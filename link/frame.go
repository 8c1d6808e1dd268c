package link

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
)

const (
	lengthPrefixSize = 4

	// DefaultMaxFrameSize bounds a single frame payload.
	DefaultMaxFrameSize = 4096
)

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrFrameEmpty    = errors.New("frame is empty")
	ErrClosed        = errors.New("link closed")
)

// frameWriter writes length-prefixed frames. Safe for concurrent use.
type frameWriter struct {
	w   io.Writer
	max uint32
	mu  sync.Mutex
}

func newFrameWriter(w io.Writer, max uint32) *frameWriter {
	return &frameWriter{w: w, max: max}
}

func (fw *frameWriter) writeFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if uint32(len(data)) > fw.max {
		return errors.Wrapf(ErrFrameTooLarge, "%d > %d", len(data), fw.max)
	}

	// prefix and payload go out in one write so a serial line never sees a
	// lone prefix
	buf := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[lengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(buf); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// frameReader reads length-prefixed frames. Not safe for concurrent use.
type frameReader struct {
	r      io.Reader
	max    uint32
	prefix [lengthPrefixSize]byte
}

func newFrameReader(r io.Reader, max uint32) *frameReader {
	return &frameReader{r: r, max: max}
}

func (fr *frameReader) readFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(fr.prefix[:])
	if n == 0 {
		return nil, ErrFrameEmpty
	}
	if n > fr.max {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d > %d", n, fr.max)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read frame payload")
	}
	return data, nil
}
