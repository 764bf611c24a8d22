package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// frameHeaderSize is the length prefix: a big-endian uint32 byte count.
	frameHeaderSize = 4

	// DefaultMaxFrameSize bounds a single frame (16 MB), enough for the
	// 10 MB sequence ceiling plus metadata.
	DefaultMaxFrameSize = 16 << 20
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrInvalidUTF8   = errors.New("frame is not valid UTF-8")
)

// WriteFrame writes msg as one length-prefixed frame:
//
//	<uint32 length, big endian> + UTF-8 bytes
func WriteFrame(w io.Writer, msg string) error {
	if uint64(len(msg)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	frame := make([]byte, frameHeaderSize+len(msg))
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[frameHeaderSize:], msg)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r. Frames larger than max bytes are
// rejected before the payload is allocated; max <= 0 means
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, max int) (string, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}

	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("read frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(max) {
		return "", fmt.Errorf("%w: %d bytes, limit is %d", ErrFrameTooLarge, n, max)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("read frame body: %w", err)
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}
