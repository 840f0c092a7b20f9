// Package wire holds the big-endian primitive encoders shared by the GW
// stream codec and the GS datagram codec.
package wire

import (
	"encoding/binary"
	"errors"
	"net"
)

// ErrShortBuffer is returned when a Read* helper is asked to consume more
// bytes than remain.
var ErrShortBuffer = errors.New("wire: short buffer")

func ReadUint8(b []byte) (uint8, []byte, error) {
	if len(b) < 1 {
		return 0, b, ErrShortBuffer
	}
	return b[0], b[1:], nil
}

func WriteUint8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

func ReadUint16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, b, ErrShortBuffer
	}
	return binary.BigEndian.Uint16(b[:2]), b[2:], nil
}

func WriteUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func ReadUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, b, ErrShortBuffer
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

func WriteUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func ReadUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, b, ErrShortBuffer
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

func WriteUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// ReadBytes consumes exactly n bytes.
func ReadBytes(b []byte, n int) ([]byte, []byte, error) {
	if len(b) < n {
		return nil, b, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, b[n:], nil
}

// ReadBytes16 consumes a 2-byte length prefix followed by that many
// bytes: the standard length-prefixed-blob convention used for chat
// text, KICK reasons, and other variable-length fields.
func ReadBytes16(b []byte) ([]byte, []byte, error) {
	n, rest, err := ReadUint16(b)
	if err != nil {
		return nil, b, err
	}
	return ReadBytes(rest, int(n))
}

func WriteBytes16(buf []byte, data []byte) []byte {
	buf = WriteUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

// IPSize is the wire width of an address field: IPv4 is carried as an
// IPv4-mapped IPv6 address, per spec.
const IPSize = 16

// ReadIP reads a 16-byte IPv4-mapped-or-native IPv6 address.
func ReadIP(b []byte) (net.IP, []byte, error) {
	raw, rest, err := ReadBytes(b, IPSize)
	if err != nil {
		return nil, b, err
	}
	return net.IP(raw), rest, nil
}

// WriteIP writes ip as a 16-byte field, mapping IPv4 addresses into the
// IPv4-mapped IPv6 form (::ffff:a.b.c.d).
func WriteIP(buf []byte, ip net.IP) []byte {
	v6 := ip.To16()
	if v6 == nil {
		v6 = make(net.IP, IPSize)
	}
	return append(buf, v6...)
}
