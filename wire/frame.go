package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame. Anything larger is a protocol error.
const MaxFrameSize = 16 << 20

// WriteFrame writes a length-prefixed msgpack frame.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads a length-prefixed msgpack frame into v.
// Returns io.EOF if the stream closed cleanly between frames.
func ReadFrame(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	return Unmarshal(payload, v)
}
