// Package gs implements the Game Server side of the system: the datagram
// frame codec (C2), the reliability engine (C7), the fragment reassembler
// (C8), the stateless-cookie auth engine (C9), the client session (C10)
// and the snapshot broadcaster (C11).
package gs

import (
	"encoding/binary"

	"github.com/rtype/rtype-server/internal/wire"
)

const (
	magicHi byte = 0x42
	magicLo byte = 0x54
	version byte = 0x01

	// HeaderSize is the 21-byte GS header.
	HeaderSize = 21

	// MaxPacketSize is the MTU imposed on outbound frames; anything
	// larger must be fragmented.
	MaxPacketSize = 1200

	// MaxFragmentBody is the largest body a single FRAGMENT frame can
	// carry: MTU minus the GS header minus the 12-byte fragment prefix
	// (base seq, total size, offset).
	MaxFragmentBody = MaxPacketSize - HeaderSize - 12
)

// Command is the one-byte datagram command.
type Command uint8

const (
	CmdInput     Command = 1
	CmdSnapshot  Command = 2
	CmdChat      Command = 3
	CmdPing      Command = 4
	CmdPong      Command = 5
	CmdAck       Command = 6
	CmdJoin      Command = 7
	CmdKick      Command = 8
	CmdChallenge Command = 9
	CmdAuth      Command = 10
	CmdAuthOK    Command = 11
	CmdResync    Command = 12
	CmdFragment  Command = 13
)

func knownCommand(c Command) bool {
	switch c {
	case CmdInput, CmdSnapshot, CmdChat, CmdPing, CmdPong, CmdAck,
		CmdJoin, CmdKick, CmdChallenge, CmdAuth, CmdAuthOK, CmdResync, CmdFragment:
		return true
	default:
		return false
	}
}

// Channel selects one of the four delivery semantics. The numeric
// assignment (UU=0, UO=1, RU=2, RO=3) is an implementation choice; the
// wire format only fixes the field as 8 bits in [0,3].
type Channel uint8

const (
	ChannelUU Channel = iota // unreliable, unordered
	ChannelUO                // unreliable, ordered
	ChannelRU                // reliable, unordered
	ChannelRO                // reliable, ordered
)

func (c Channel) Reliable() bool { return c == ChannelRU || c == ChannelRO }
func (c Channel) Ordered() bool  { return c == ChannelUO || c == ChannelRO }

// Flag bits in the header's flags byte. COMPRESSED and ENCRYPTED are
// parsed and round-tripped but not yet acted on by any handler.
const (
	FlagFragment   uint8 = 1 << 0
	FlagCompressed uint8 = 1 << 1
	FlagEncrypted  uint8 = 1 << 2
)

// Header is the decoded 21-byte GS header.
type Header struct {
	Flags     uint8
	Seq       uint32
	AckBase   uint32
	AckBits   uint8
	Channel   Channel
	TotalSize uint16
	ClientID  uint32
	Command   Command
}

// Frame is one decoded datagram.
type Frame struct {
	Header
	Body []byte
}

// Decode decodes one UDP payload into a Frame. A datagram is always
// exactly one frame (no partial frames): malformed input is silently
// dropped (ok=false), never an error the caller must propagate, since
// datagrams are lossy by design and a lying peer only wastes its own
// packets.
func Decode(payload []byte) (*Frame, bool) {
	if len(payload) < HeaderSize {
		return nil, false
	}
	if payload[0] != magicHi || payload[1] != magicLo {
		return nil, false
	}
	if payload[2] != version {
		return nil, false
	}

	h := Header{
		Flags:     payload[3],
		Seq:       binary.BigEndian.Uint32(payload[4:8]),
		AckBase:   binary.BigEndian.Uint32(payload[8:12]),
		AckBits:   payload[12],
		Channel:   Channel(payload[13]),
		TotalSize: binary.BigEndian.Uint16(payload[14:16]),
		ClientID:  binary.BigEndian.Uint32(payload[16:20]),
		Command:   Command(payload[20]),
	}

	if h.Channel > ChannelRO {
		return nil, false
	}
	if !knownCommand(h.Command) {
		return nil, false
	}
	if int(h.TotalSize) != len(payload) {
		return nil, false
	}

	body := make([]byte, len(payload)-HeaderSize)
	copy(body, payload[HeaderSize:])

	return &Frame{Header: h, Body: body}, true
}

// Encode serializes a complete datagram.
func Encode(h Header, body []byte) []byte {
	h.TotalSize = uint16(HeaderSize + len(body))

	buf := make([]byte, 0, h.TotalSize)
	buf = append(buf, magicHi, magicLo, version, h.Flags)
	buf = wire.WriteUint32(buf, h.Seq)
	buf = wire.WriteUint32(buf, h.AckBase)
	buf = wire.WriteUint8(buf, h.AckBits)
	buf = wire.WriteUint8(buf, uint8(h.Channel))
	buf = wire.WriteUint16(buf, h.TotalSize)
	buf = wire.WriteUint32(buf, h.ClientID)
	buf = wire.WriteUint8(buf, uint8(h.Command))
	buf = append(buf, body...)
	return buf
}
