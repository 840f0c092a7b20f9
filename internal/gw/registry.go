package gw

import (
	"net"
	"sync"

	"github.com/rtype/rtype-server/internal/errs"
)

// GSKey identifies a Game Server record: a 16-byte IP and a 16-bit port.
type GSKey struct {
	IP   [16]byte
	Port uint16
}

func NewGSKey(ip net.IP, port uint16) GSKey {
	var k GSKey
	v6 := ip.To16()
	copy(k.IP[:], v6)
	k.Port = port
	return k
}

// gsRecord is the registry's value type for a GSKey.
type gsRecord struct {
	handle     PeerHandle
	occupancy  uint8
	games      map[uint32]struct{}
	registered int // monotonically increasing registration order, for pick-least-loaded tie-breaking
}

// Registry is the GS registry (C4): known Game Servers, their occupancy,
// and the game→GS routing table.
type Registry struct {
	mu sync.RWMutex

	byKey    map[GSKey]*gsRecord
	byHandle map[PeerHandle]GSKey
	routes   map[uint32]GSKey // Game ID -> owning GS key
	seq      int
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[GSKey]*gsRecord),
		byHandle: make(map[PeerHandle]GSKey),
		routes:   make(map[uint32]GSKey),
	}
}

// Register records key<->handle. It fails (ok=false) when the key is
// already present under a different handle.
func (r *Registry) Register(key GSKey, handle PeerHandle) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, present := r.byKey[key]; present && existing.handle != handle {
		return false
	}

	r.seq++
	r.byKey[key] = &gsRecord{handle: handle, games: make(map[uint32]struct{}), registered: r.seq}
	r.byHandle[handle] = key
	return true
}

// RecordOccupancy updates the occupancy count for the GS owning handle.
// It is a protocol error if handle isn't a registered GS.
func (r *Registry) RecordOccupancy(handle PeerHandle, count uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byHandle[handle]
	if !ok {
		return errs.New(errs.Protocol, "occupancy from unregistered peer")
	}
	r.byKey[key].occupancy = count
	return nil
}

// RecordGames bulk-assigns game routing for ids to the GS owning handle.
// Any id previously routed elsewhere is overwritten: latest wins.
func (r *Registry) RecordGames(handle PeerHandle, ids []uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byHandle[handle]
	if !ok {
		return errs.New(errs.Protocol, "GID from unregistered peer")
	}
	for _, id := range ids {
		if prev, exists := r.routes[id]; exists && prev != key {
			delete(r.byKey[prev].games, id)
		}
		r.routes[id] = key
		r.byKey[key].games[id] = struct{}{}
	}
	return nil
}

// RouteCreateReply records the routing entry produced by a GS's JOIN-shaped
// reply to a forwarded CREATE, the counterpart to the bulk GID-announce
// path in RecordGames.
func (r *Registry) RouteCreateReply(handle PeerHandle, gameID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byHandle[handle]
	if !ok {
		return errs.New(errs.Protocol, "JOIN reply from unregistered peer")
	}
	r.routes[gameID] = key
	r.byKey[key].games[gameID] = struct{}{}
	return nil
}

// RouteFor returns the GS key hosting gameID.
func (r *Registry) RouteFor(gameID uint32) (GSKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.routes[gameID]
	return key, ok
}

// EndGame removes the routing entry for gameID iff it is owned by handle.
// A mismatched GAME_END (from a non-owning peer) is a protocol error.
func (r *Registry) EndGame(handle PeerHandle, gameID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.routes[gameID]
	if !ok {
		return errs.New(errs.Protocol, "GAME_END for unrouted game")
	}
	ownerHandle, ok := r.byHandle[handle]
	if !ok || ownerHandle != owner {
		return errs.New(errs.Protocol, "GAME_END from non-owning peer")
	}
	delete(r.routes, gameID)
	delete(r.byKey[owner].games, gameID)
	return nil
}

// PickLeastLoaded returns the registered GS with the minimum occupancy,
// ties broken by earliest registration order. ok is false when the
// registry is empty.
func (r *Registry) PickLeastLoaded() (key GSKey, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *gsRecord
	for k, rec := range r.byKey {
		if best == nil ||
			rec.occupancy < best.occupancy ||
			(rec.occupancy == best.occupancy && rec.registered < best.registered) {
			best = rec
			key = k
		}
	}
	return key, best != nil
}

// HandleFor resolves a GS key to its registering stream handle.
func (r *Registry) HandleFor(key GSKey) (PeerHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byKey[key]
	if !ok {
		return 0, false
	}
	return rec.handle, true
}

// Remove deletes the GS record owned by handle (on stream close/eviction).
// Games it hosted are left orphaned rather than silently re-homed (see
// DESIGN.md), so they simply become unjoinable (JOIN for them will
// resolve to "no route").
func (r *Registry) Remove(handle PeerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byHandle[handle]
	if !ok {
		return
	}
	for id := range r.byKey[key].games {
		delete(r.routes, id)
	}
	delete(r.byKey, key)
	delete(r.byHandle, handle)
}

// Count reports how many Game Servers are currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byKey)
}
