// Package gw implements the Gateway side of the system: the stream frame
// codec (C1), the per-peer session table (C3), the Game Server registry
// (C4), the pending-create map (C5) and the command dispatcher (C6).
package gw

import (
	"fmt"

	"github.com/rtype/rtype-server/internal/wire"
)

const (
	magicHi byte = 0x42
	magicLo byte = 0x57
	version byte = 0x01

	// headerSize is the 5-byte magic+version+flags+command header.
	headerSize = 5
)

// Command is the one-byte stream command, a closed tagged variant over
// the fixed set of commands the wire protocol defines.
type Command uint8

const (
	CmdJoin      Command = 1
	CmdCreate    Command = 3
	CmdGameEnd   Command = 5
	CmdGS        Command = 20
	CmdGSOK      Command = 21
	CmdGSKO      Command = 22
	CmdOccupancy Command = 23
	CmdGID       Command = 24
)

// GameTypeRType is the one game type the reference client requests.
const GameTypeRType uint8 = 1

// PeerKind distinguishes a Game Server stream peer from a plain client
// peer. JOIN is the only command whose body shape depends on this: a
// client's JOIN carries a 4-byte Game ID; a Game Server's JOIN (replying
// to a forwarded CREATE) carries a 22-byte game+IP+port payload. The
// codec is handed the sender's recorded PeerKind by the session table
// (C3) rather than guessing from bytes, since the wire format gives no
// other signal.
type PeerKind uint8

const (
	PeerUnknown PeerKind = iota
	PeerClient
	PeerGameServer
)

// Frame is one decoded stream frame.
type Frame struct {
	Flags   uint8
	Command Command
	Body    []byte
}

// FramingError is returned for a malformed header (bad magic/version).
// It is always accompanied by a non-zero Consumed so the caller can
// resynchronize the peer's buffer and bump the parse-error quota.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "gw: framing: " + e.Reason }

// Decode attempts to read one frame from buf. It returns the frame, the
// number of bytes consumed from buf, and an error.
//
//   - If buf doesn't yet hold a complete header, it returns (nil, 0, nil):
//     a partial header is not an error, it stays buffered.
//   - If the header is structurally complete but magic/version is wrong,
//     it returns a *FramingError and consumes exactly one byte, so the
//     next call can attempt to resynchronize on the following byte.
//   - If the header is valid but the declared body isn't fully buffered
//     yet, it returns (nil, 0, nil): wait for more bytes.
func Decode(buf []byte, kind PeerKind) (*Frame, int, error) {
	if len(buf) < headerSize {
		return nil, 0, nil
	}

	if buf[0] != magicHi || buf[1] != magicLo {
		return nil, 1, &FramingError{Reason: "bad magic"}
	}
	if buf[2] != version {
		return nil, 1, &FramingError{Reason: "bad version"}
	}

	flags := buf[3]
	cmd := Command(buf[4])

	bodyLen, variable, err := expectedBodyLen(cmd, kind, buf[headerSize:])
	if err != nil {
		return nil, 1, err
	}
	if !variable {
		if len(buf) < headerSize+bodyLen {
			return nil, 0, nil
		}
	} else if bodyLen < 0 {
		// Not enough bytes yet to know the variable body's true length
		// (e.g. GID's count prefix hasn't arrived).
		return nil, 0, nil
	}

	total := headerSize + bodyLen
	if len(buf) < total {
		return nil, 0, nil
	}

	body := make([]byte, bodyLen)
	copy(body, buf[headerSize:total])

	return &Frame{Flags: flags, Command: cmd, Body: body}, total, nil
}

// expectedBodyLen returns the body length for cmd given the sender's kind
// and the bytes already buffered after the header (needed for GID's
// variable length). bodyLen is -1 when the length can't yet be determined
// because the count prefix itself hasn't arrived.
func expectedBodyLen(cmd Command, kind PeerKind, afterHeader []byte) (bodyLen int, variable bool, err error) {
	switch cmd {
	case CmdJoin:
		if kind == PeerGameServer {
			return 4 + wire.IPSize + 2, false, nil
		}
		return 4, false, nil
	case CmdCreate:
		return 1, false, nil
	case CmdGameEnd:
		return 4, false, nil
	case CmdGS:
		return wire.IPSize + 2, false, nil
	case CmdGSOK, CmdGSKO:
		return 0, false, nil
	case CmdOccupancy:
		return 1, false, nil
	case CmdGID:
		if len(afterHeader) < 1 {
			return -1, true, nil
		}
		count := int(afterHeader[0])
		return 1 + count*4, true, nil
	default:
		return 0, false, &FramingError{Reason: fmt.Sprintf("unknown command %d", cmd)}
	}
}

// Encode writes a complete frame (header + body) for cmd.
func Encode(flags uint8, cmd Command, body []byte) []byte {
	buf := make([]byte, 0, headerSize+len(body))
	buf = append(buf, magicHi, magicLo, version, flags, byte(cmd))
	buf = append(buf, body...)
	return buf
}
