// File: transport/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP wire format. A connection opens with a 4-byte greeting from each side,
// then carries frames: flags(1) | length(4, big endian) | body. Flag bit 0
// marks that more frames of the same message follow.

package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/momentics/hioload-mq/api"
)

const (
	greeting     = "HMQ\x01"
	frameHeader  = 5
	flagMore     = 0x01
	MaxFrameSize = 16 << 20
)

func writeGreeting(w io.Writer) error {
	_, err := io.WriteString(w, greeting)
	return err
}

func readGreeting(r io.Reader) error {
	var buf [len(greeting)]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if string(buf[:]) != greeting {
		return api.NewError(api.ErrCodeProtocol, "unexpected greeting").WithContext("got", fmt.Sprintf("%q", buf[:]))
	}
	return nil
}

// appendMessage encodes frames into buf.
func appendMessage(buf *bytebufferpool.ByteBuffer, frames [][]byte) error {
	var hdr [frameHeader]byte
	for i, f := range frames {
		if len(f) > MaxFrameSize {
			return fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, len(f))
		}
		hdr[0] = 0
		if i < len(frames)-1 {
			hdr[0] = flagMore
		}
		binary.BigEndian.PutUint32(hdr[1:], uint32(len(f)))
		_, _ = buf.Write(hdr[:])
		_, _ = buf.Write(f)
	}
	return nil
}

// writeMessage encodes frames through a pooled buffer and writes them to w.
func writeMessage(w io.Writer, frames [][]byte) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := appendMessage(buf, frames); err != nil {
		return err
	}
	_, err := w.Write(buf.B)
	return err
}

// readMessage decodes one complete message.
func readMessage(r *bufio.Reader) ([][]byte, error) {
	var frames [][]byte
	var hdr [frameHeader]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if len(frames) > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if hdr[0]&^flagMore != 0 {
			return nil, api.NewError(api.ErrCodeProtocol, "reserved frame flags set").WithContext("flags", hdr[0])
		}
		n := binary.BigEndian.Uint32(hdr[1:])
		if n > MaxFrameSize {
			return nil, fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, n)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		frames = append(frames, body)
		if hdr[0]&flagMore == 0 {
			return frames, nil
		}
	}
}
