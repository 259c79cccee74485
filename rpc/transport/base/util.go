package base

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

const (
	frameHeaderSize = 20
	// maxFrameSize bounds the payload a peer may announce
	maxFrameSize = 64 << 20
)

var errFrameTooLarge = errors.New("frame exceeds maximum size")

// writeFrame writes a frame to the connection with the format:
//
//	[shardId u64][requestId u64][len u32][payload]
//
// all integers big endian. Header and payload go out in a single writev.
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header[:], data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame into buf. The payload is read into buf when it fits,
// otherwise alloc is asked for a buffer of the right size. The returned payload
// aliases whichever buffer was used.
func readFrame(r io.Reader, buf []byte, alloc func(n int) []byte) (shardID, requestID uint64, data []byte, err error) {
	var header [frameHeaderSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}

	shardID = binary.BigEndian.Uint64(header[:8])
	requestID = binary.BigEndian.Uint64(header[8:16])
	n := int(binary.BigEndian.Uint32(header[16:20]))

	if n > maxFrameSize {
		return shardID, requestID, nil, errors.Wrapf(errFrameTooLarge, "%d bytes", n)
	}
	if n == 0 {
		return shardID, requestID, []byte{}, nil
	}
	if cap(buf) < n {
		buf = alloc(n)
	}
	data = buf[:n]
	if _, err = io.ReadFull(r, data); err != nil {
		return shardID, requestID, nil, err
	}
	return shardID, requestID, data, nil
}
