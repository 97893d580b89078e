/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Frame layout: uint32 length of the rest | uint16 status | uint16 key length | key | body.
// All integers are big-endian. Request frames carry status 0.
const (
	frameLengthSize = 4
	frameHeaderSize = 4 // status + key length

	minFrameSize      = frameHeaderSize
	maxFrameSizeLimit = math.MaxUint32
)

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum size.
var ErrFrameTooLarge = errors.New("frame is too large")

// ErrMalformedFrame is returned when the frame length does not match its content.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one message on a TCP connection.
type Frame struct {
	Status uint16
	Key    string
	Body   []byte
}

// Size returns the encoded frame size without the length prefix.
func (f Frame) Size() int {
	return frameHeaderSize + len(f.Key) + len(f.Body)
}

// ReadFrame reads one frame. maxSize limits the frame size without the length prefix, 0 means no limit.
// io.EOF is returned only if the stream ends before the first byte of the frame.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var lenBuf [frameLengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size < frameHeaderSize {
		return Frame{}, fmt.Errorf("%w: length %d is shorter than header", ErrMalformedFrame, size)
	}
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return Frame{}, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, size, maxSize)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	status := binary.BigEndian.Uint16(buf[0:2])
	keyLen := int(binary.BigEndian.Uint16(buf[2:4]))
	if frameHeaderSize+keyLen > len(buf) {
		return Frame{}, fmt.Errorf("%w: key length %d exceeds frame length %d", ErrMalformedFrame, keyLen, size)
	}
	return Frame{
		Status: status,
		Key:    string(buf[frameHeaderSize : frameHeaderSize+keyLen]),
		Body:   buf[frameHeaderSize+keyLen:],
	}, nil
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f Frame, maxSize int) ([]byte, error) {
	if len(f.Key) > math.MaxUint16 {
		return dst, fmt.Errorf("%w: key length %d exceeds %d", ErrMalformedFrame, len(f.Key), math.MaxUint16)
	}
	size := f.Size()
	if (maxSize > 0 && size > maxSize) || uint64(size) > maxFrameSizeLimit {
		return dst, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, size, maxSize)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(size))
	dst = binary.BigEndian.AppendUint16(dst, f.Status)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(f.Key)))
	dst = append(dst, f.Key...)
	return append(dst, f.Body...), nil
}

// WriteFrame writes one frame. maxSize limits the frame size without the length prefix, 0 means no limit.
func WriteFrame(w io.Writer, f Frame, maxSize int) error {
	buf, err := AppendFrame(make([]byte, 0, frameLengthSize+f.Size()), f, maxSize)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// StatusOf converts a message status to the frame status field.
func StatusOf(status int) uint16 {
	if status < 0 || status > math.MaxUint16 {
		return 0
	}
	return uint16(status)
}
