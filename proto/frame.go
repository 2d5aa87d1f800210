package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ZenLiuCN/hotswap"
)

// MaxFramePayload limits a frame payload to 16MB.
const MaxFramePayload = 16 << 20

// WriteFrame writes payload to w.
// Wire format: [length:4 LE][payload].
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(payload), MaxFramePayload)
	}
	b := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(b, uint32(len(payload)))
	copy(b[4:], payload)
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame payload from r. A stream closed between frames yields io.EOF, a frame
// cut short or claiming more than MaxFramePayload yields ErrProtocolDecode.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame header", hotswap.ErrProtocolDecode)
		}
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header)
	if length > MaxFramePayload {
		return nil, fmt.Errorf("%w: frame length %d exceeds %d", hotswap.ErrProtocolDecode, length, MaxFramePayload)
	}
	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame, %d of %d bytes", hotswap.ErrProtocolDecode, n, length)
		}
		return nil, fmt.Errorf("read frame data: %w", err)
	}
	return payload, nil
}

// Write one message to w.
func Write(w io.Writer, p Payload) error {
	b, err := Encode(p)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// Read one message from r.
func Read(r io.Reader) (Payload, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}
