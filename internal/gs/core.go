package gs

import (
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rtype/rtype-server/internal/metrics"
	"github.com/rtype/rtype-server/internal/wire"
)

// Transport is the outbound half of the datagram socket, injected so
// Core never touches net.UDPConn directly.
type Transport interface {
	WriteTo(addr *net.UDPAddr, data []byte) error
}

// Game is the external simulation collaborator; the simulation itself
// is out of scope for this service. Core only forwards decoded
// input/chat/resync events to it; it never interprets them.
type Game interface {
	HandleInput(gameID, clientID uint32, events []InputEvent)
	HandleChat(gameID, clientID uint32, text string)
	RequestResync(gameID, clientID uint32)
}

// Core is the Game Server's datagram-side command dispatcher: it owns
// the client session table, the auth engine and the fragment
// reassembler, and gates every non-exempt command on Authenticated.
type Core struct {
	Sessions    *Table
	Auth        *Engine
	Reassembler *Reassembler
	Broadcast   *Broadcaster

	transport Transport
	game      Game
	log       *zap.SugaredLogger
}

func NewCore(transport Transport, game Game, secret []byte, log *zap.SugaredLogger) *Core {
	return &Core{
		Sessions:    NewTable(),
		Auth:        NewEngine(secret),
		Reassembler: NewReassembler(),
		Broadcast:   NewBroadcaster(),
		transport:   transport,
		game:        game,
		log:         log,
	}
}

// HandleDatagram decodes and dispatches one inbound UDP payload from
// addr. Malformed datagrams are silently dropped: framing errors on a
// datagram never propagate as an error the caller must handle.
func (c *Core) HandleDatagram(addr *net.UDPAddr, payload []byte, now time.Time) {
	frame, ok := Decode(payload)
	if !ok {
		return
	}

	switch frame.Command {
	case CmdJoin:
		c.handleJoin(addr, frame, now)
		return
	case CmdAuth:
		c.handleAuth(addr, frame, now)
		return
	case CmdPing:
		c.handlePing(addr, frame, now)
		return
	}

	// Every other command requires an authenticated, known session:
	// non-conforming packets are dropped silently, never treated as a
	// protocol error on this side.
	session, ok := c.Sessions.Get(frame.ClientID)
	if !ok || session.Auth != AuthAuthenticated {
		return
	}

	session.Reliability.RecordReceived(frame.Seq)
	delivered := session.Reliability.Deliver(frame.Channel, frame.Seq, frame.Body)
	for _, body := range delivered {
		c.handleAuthenticated(session, frame.Command, body, now)
	}
}

func (c *Core) handleJoin(addr *net.UDPAddr, frame *Frame, now time.Time) {
	clientID, nonce, _, ok := DecodeJoinBody(frame.Body)
	if !ok || clientID != frame.ClientID {
		return
	}

	session, exists := c.Sessions.Get(clientID)
	if !exists {
		session = NewClientSession(clientID, addr)
		c.Sessions.Put(session)
	} else {
		session.Addr = addr // NAT rebind: address may have changed since last JOIN
	}

	if session.Auth == AuthAuthenticated {
		return // already authenticated, a stray replay — ignore
	}

	timestamp, ck := c.Auth.Challenge(clientID, addr.IP, nonce, now)
	session.Auth = AuthChallenged

	c.sendUU(session, CmdChallenge, EncodeChallengeBody(timestamp, ck), now)
}

func (c *Core) handleAuth(addr *net.UDPAddr, frame *Frame, now time.Time) {
	session, ok := c.Sessions.Get(frame.ClientID)
	if !ok || session.Auth == AuthAuthenticated {
		return
	}

	nonce, ck, ok := DecodeAuthBody(frame.Body)
	if !ok {
		return
	}

	key, state := c.Auth.Verify(frame.ClientID, addr.IP, nonce, ck, now)
	if state != AuthAuthenticated {
		metrics.GSAuthAttempts.WithLabelValues("rejected").Inc()
		return
	}
	metrics.GSAuthAttempts.WithLabelValues("ok").Inc()

	session.Auth = AuthAuthenticated
	session.SessionKey = key
	c.sendUU(session, CmdAuthOK, EncodeAuthOKBody(frame.ClientID, key), now)
}

func (c *Core) handlePing(addr *net.UDPAddr, frame *Frame, now time.Time) {
	session, ok := c.Sessions.Get(frame.ClientID)
	if !ok {
		// PING is exempt from the auth gate, but a reply still needs a
		// session to carry a sequence counter; a peer pinging before
		// JOIN gets silently ignored, same as any other drop.
		return
	}
	session.Addr = addr
	c.sendUU(session, CmdPong, nil, now)
}

// handleAuthenticated dispatches a single delivered (post-channel) body
// for an authenticated session. A FRAGMENT body is fed to the
// reassembler; a completed reassembly is logged and not dispatched
// further.
func (c *Core) handleAuthenticated(session *ClientSession, cmd Command, body []byte, now time.Time) {
	switch cmd {
	case CmdInput:
		if !session.HasGame {
			return
		}
		c.game.HandleInput(session.GameID, session.ClientID, DecodeInput(body))

	case CmdChat:
		text, ok := decodeChatText(body)
		if !ok {
			return
		}
		if session.HasGame {
			c.game.HandleChat(session.GameID, session.ClientID, text)
		}

	case CmdPong:
		session.OnPong(now)

	case CmdAck:
		rest := body
		for {
			var seq uint32
			var err error
			seq, rest, err = wire.ReadUint32(rest)
			if err != nil {
				break
			}
			session.Reliability.Ack(seq, now)
		}

	case CmdResync:
		if session.HasGame {
			c.game.RequestResync(session.GameID, session.ClientID)
		}

	case CmdFragment:
		payload, ok := DecodeFragmentBody(body)
		if !ok {
			return
		}
		if reassembled, done := c.Reassembler.Feed(peerKeyFor(session), payload, now); done {
			c.log.Debugw("fragment reassembly complete", "client", session.ClientID, "bytes", len(reassembled))
		}

	default:
		// KICK/CHALLENGE/AUTH_OK/SNAPSHOT arriving from a client are
		// server-only commands; well-formed but nonsensical, dropped.
	}
}

// sendUU sends a JOIN-handshake-style reply (CHALLENGE/AUTH_OK/PONG) on
// the unreliable-unordered channel: these are single responses to a
// single request and the stateless-cookie design keeps no per-peer retry
// state between them, so they are never retransmitted server-side.
func (c *Core) sendUU(session *ClientSession, cmd Command, body []byte, now time.Time) {
	c.send(session, ChannelUU, cmd, body, now)
}

// send builds and writes one outbound datagram, registering it with the
// reliability engine when sent on a reliable channel.
func (c *Core) send(session *ClientSession, ch Channel, cmd Command, body []byte, now time.Time) {
	seq := session.Reliability.NextSeq()
	ackbase, ackbits := session.Reliability.AckBaseAndBits()

	h := Header{
		Seq:      seq,
		AckBase:  ackbase,
		AckBits:  ackbits,
		Channel:  ch,
		ClientID: session.ClientID,
		Command:  cmd,
	}
	if cmd == CmdFragment {
		h.Flags |= FlagFragment
	}

	data := Encode(h, body)
	session.Reliability.Send(ch, seq, data, now)

	if err := c.transport.WriteTo(session.Addr, data); err != nil {
		c.log.Warnw("datagram write failed", "client", session.ClientID, "err", err)
	}
}

// Send is the exported form of send, used by the event loop for
// broadcaster-driven sends (SNAPSHOT/FRAGMENT on RO).
func (c *Core) Send(session *ClientSession, ch Channel, cmd Command, body []byte, now time.Time) {
	c.send(session, ch, cmd, body, now)
}

// Tick runs the per-loop timed tasks: retransmit sweep, auth-challenge
// reaper, fragment reaper, periodic PING emitter.
func (c *Core) Tick(now time.Time) {
	for _, id := range c.Auth.ReapChallenged(now) {
		if s, ok := c.Sessions.Get(id); ok && s.Auth == AuthChallenged {
			s.Auth = AuthNone
		}
	}
	c.Reassembler.Reap(now)

	authenticated := 0
	c.Sessions.ForEach(func(s *ClientSession) {
		for _, o := range mustRetransmit(s, now) {
			metrics.GSRetransmits.Inc()
			if err := c.transport.WriteTo(s.Addr, o.Data); err != nil {
				c.log.Warnw("retransmit failed", "client", s.ClientID, "err", err)
			}
		}
		if s.ShouldPing(now) {
			s.MarkPingSent(now)
			c.send(s, ChannelUU, CmdPing, nil, now)
		}
		if s.Auth == AuthAuthenticated {
			authenticated++
		}
	})
	metrics.GSAuthenticatedSessions.Set(float64(authenticated))
	metrics.GSFragmentBuffers.Set(float64(c.Reassembler.Count()))
}

func mustRetransmit(s *ClientSession, now time.Time) []*outstandingSend {
	due, gaveUp := s.Reliability.DueRetransmits(now)
	for range gaveUp {
		s.Auth = AuthNone
	}
	return due
}

func decodeChatText(body []byte) (string, bool) {
	text, _, err := wire.ReadBytes16(body)
	if err != nil {
		return "", false
	}
	return string(text), true
}

// peerKeyFor is the Reassembler's key for session s. Fragment reassembly
// only happens post-authentication (handleAuthenticated is only reached
// once session.Auth == AuthAuthenticated), so it keys by the stable
// ClientID rather than the UDP address: a NAT rebind mid-transfer updates
// session.Addr but must not orphan the in-flight fragment buffer.
func peerKeyFor(s *ClientSession) string {
	return strconv.FormatUint(uint64(s.ClientID), 10)
}
