package gw

import (
	"context"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/rtype/rtype-server/internal/errs"
	"github.com/rtype/rtype-server/internal/wire"
)

// GatewayCore owns the registry, pending-create map and session table and
// is the sole entry point for dispatching decoded stream frames. All
// state lives on the struct rather than at package scope, so handlers
// are plain methods on *GatewayCore and multiple instances can run
// side by side in tests.
type GatewayCore struct {
	Sessions *SessionTable
	Registry *Registry
	Pending  *PendingCreates

	log *zap.SugaredLogger

	// createLimiter caps CREATE throughput per process, a leaky-bucket
	// guard in front of the pending-create map so a burst of CREATEs
	// can't exhaust it faster than GS replies can drain it.
	createLimiter ratelimit.Limiter

	active map[GSKey]bool
}

// NewGatewayCore constructs a GatewayCore. createsPerSecond bounds CREATE
// throughput; pass 0 for unlimited (tests).
func NewGatewayCore(log *zap.SugaredLogger, createsPerSecond int) *GatewayCore {
	var lim ratelimit.Limiter
	if createsPerSecond > 0 {
		lim = ratelimit.New(createsPerSecond)
	} else {
		lim = ratelimit.NewUnlimited()
	}
	return &GatewayCore{
		Sessions:      NewSessionTable(),
		Registry:      NewRegistry(),
		Pending:       NewPendingCreates(),
		log:           log,
		createLimiter: lim,
		active:        make(map[GSKey]bool),
	}
}

// HandleFrame dispatches one decoded frame from h. It is a total match
// over Command; unknown commands fall through to a single dedicated
// branch handled uniformly rather than being silently ignored.
func (c *GatewayCore) HandleFrame(h PeerHandle, f *Frame) error {
	switch f.Command {
	case CmdJoin:
		return c.handleJoin(h, f)
	case CmdCreate:
		return c.handleCreate(h, f)
	case CmdGameEnd:
		return c.handleGameEnd(h, f)
	case CmdGS:
		return c.handleGS(h, f)
	case CmdOccupancy:
		return c.handleOccupancy(h, f)
	case CmdGID:
		return c.handleGID(h, f)
	default:
		c.log.Debugw("dropping unexpected command", "peer", h, "cmd", f.Command)
		return nil
	}
}

func (c *GatewayCore) session(h PeerHandle) (*Session, error) {
	s, ok := c.Sessions.Get(h)
	if !ok {
		return nil, errs.New(errs.Protocol, "frame from unknown peer")
	}
	return s, nil
}

func (c *GatewayCore) handleJoin(h PeerHandle, f *Frame) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}

	if s.Kind == PeerGameServer {
		return c.handleJoinFromGS(h, f)
	}

	gameID, _, err := wire.ReadUint32(f.Body)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}

	key, ok := c.Registry.RouteFor(gameID)
	if !ok {
		s.Enqueue(Encode(0, CmdJoin, nil)) // JOIN_KO: empty body
		return nil
	}

	body := wire.WriteUint32(nil, gameID)
	body = wire.WriteIP(body, key.IP[:])
	body = wire.WriteUint16(body, key.Port)
	s.Enqueue(Encode(0, CmdJoin, body))
	return nil
}

func (c *GatewayCore) handleJoinFromGS(gsHandle PeerHandle, f *Frame) error {
	gameID, rest, err := wire.ReadUint32(f.Body)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}
	ip, rest, err := wire.ReadIP(rest)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}
	port, _, err := wire.ReadUint16(rest)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}

	entry, ok := c.Pending.Take(gsHandle)
	if !ok {
		c.log.Warnw("JOIN reply with no pending CREATE", "gs", gsHandle)
		return nil
	}

	if err := c.Registry.RouteCreateReply(gsHandle, gameID); err != nil {
		return err
	}

	clientSession, ok := c.Sessions.Get(entry.Client)
	if !ok {
		return nil // originating client already disconnected
	}

	body := wire.WriteUint32(nil, gameID)
	body = wire.WriteIP(body, ip)
	body = wire.WriteUint16(body, port)
	clientSession.Enqueue(Encode(0, CmdJoin, body))
	return nil
}

func (c *GatewayCore) handleCreate(h PeerHandle, f *Frame) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}
	if len(f.Body) != 1 {
		return errs.New(errs.Framing, "CREATE body must be 1 byte")
	}
	gameType := f.Body[0]

	c.createLimiter.Take()

	key, ok := c.Registry.PickLeastLoaded()
	if !ok {
		s.Enqueue(Encode(0, CmdCreate, nil)) // CREATE_KO: empty body
		return nil
	}

	gsHandle, ok := c.Registry.HandleFor(key)
	if !ok {
		s.Enqueue(Encode(0, CmdCreate, nil))
		return nil
	}
	gsSession, ok := c.Sessions.Get(gsHandle)
	if !ok {
		s.Enqueue(Encode(0, CmdCreate, nil))
		return nil
	}

	c.Pending.Put(gsHandle, PendingCreate{Client: h, GameType: gameType})
	gsSession.Enqueue(Encode(0, CmdCreate, []byte{gameType}))
	return nil
}

func (c *GatewayCore) handleGameEnd(h PeerHandle, f *Frame) error {
	gameID, _, err := wire.ReadUint32(f.Body)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}
	return c.Registry.EndGame(h, gameID)
}

func (c *GatewayCore) handleGS(h PeerHandle, f *Frame) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}

	ip, rest, err := wire.ReadIP(f.Body)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}
	port, _, err := wire.ReadUint16(rest)
	if err != nil {
		return errs.Wrap(errs.Framing, err)
	}

	key := NewGSKey(ip, port)
	if c.Registry.Register(key, h) {
		s.Kind = PeerGameServer
		s.Enqueue(Encode(0, CmdGSOK, nil))
	} else {
		s.Enqueue(Encode(0, CmdGSKO, nil))
	}
	return nil
}

func (c *GatewayCore) handleOccupancy(h PeerHandle, f *Frame) error {
	if len(f.Body) != 1 {
		return errs.New(errs.Framing, "OCCUPANCY body must be 1 byte")
	}
	if err := c.Registry.RecordOccupancy(h, f.Body[0]); err != nil {
		return err
	}
	if key, ok := c.Registry.byHandle[h]; ok {
		c.active[key] = true // Registered -> Active on first OCCUPANCY
	}
	return nil
}

func (c *GatewayCore) handleGID(h PeerHandle, f *Frame) error {
	if len(f.Body) < 1 {
		return errs.New(errs.Framing, "GID body missing count")
	}
	count := int(f.Body[0])
	rest := f.Body[1:]
	ids := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		var id uint32
		var err error
		id, rest, err = wire.ReadUint32(rest)
		if err != nil {
			return errs.Wrap(errs.Framing, err)
		}
		ids = append(ids, id)
	}
	return c.Registry.RecordGames(h, ids)
}

// IsActive reports whether the GS at key has received its first OCCUPANCY
// frame since registering (the Registered->Active transition).
func (c *GatewayCore) IsActive(key GSKey) bool {
	return c.active[key]
}

// Evict closes h's session and removes any GS record it owned. Games
// the evicted GS hosted are left orphaned; see Registry.Remove.
func (c *GatewayCore) Evict(ctx context.Context, h PeerHandle, reason string) {
	c.log.Infow("evicting peer", "peer", h, "reason", reason)
	c.Registry.Remove(h)
	c.Pending.Remove(h)
	c.Sessions.Close(h)
}
