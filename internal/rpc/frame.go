// Package rpc implements the binary request/response protocol spoken with
// the debugger backend.
//
// Every message is a frame: a 4-byte big-endian length followed by a CBOR
// encoded Frame. Calls carry a method name of the form "Service.method" and a
// sequence number; replies echo the sequence number and carry either a body
// or a RemoteError.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/vburojevic/dbgbridge/internal/domain"
)

// MaxFrameSize bounds a single frame on the wire.
const MaxFrameSize = 16 << 20

// FrameKind distinguishes calls from replies.
type FrameKind uint8

const (
	KindCall  FrameKind = 1
	KindReply FrameKind = 2
)

// Frame is one message on the wire.
type Frame struct {
	Seq    uint64          `cbor:"1,keyasint"`
	Kind   FrameKind       `cbor:"2,keyasint"`
	Method string          `cbor:"3,keyasint,omitempty"`
	Body   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Error  *RemoteError    `cbor:"5,keyasint,omitempty"`
}

// Remote error codes.
const (
	CodeApplication   = 1
	CodeUnknownMethod = 2
	CodeBadRequest    = 3
)

// RemoteError is an application-level failure reported by the peer. It
// matches domain.ErrBackendRejected.
type RemoteError struct {
	Code    int    `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is reports whether target is domain.ErrBackendRejected.
func (e *RemoteError) Is(target error) bool {
	return target == domain.ErrBackendRejected
}

// ErrClosed is returned by calls on a closed or broken connection.
var ErrClosed = errors.New("rpc: connection closed")

// WriteFrame encodes f and writes it with its length prefix.
func WriteFrame(w io.Writer, f *Frame) error {
	payload, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	var f Frame
	if err := cbor.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}
