package gs

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"
)

// AuthTimeout is the window in which a CHALLENGE's timestamp may be
// reproduced, and how long a Challenged session may sit before being
// reaped.
const AuthTimeout = 5 * time.Second

// MaxAuthAttempts caps AUTH attempts per (peer_ip, ClientID) within one
// AuthTimeout window.
const MaxAuthAttempts = 3

// SharedSecretEnv is the environment variable carrying the hex-encoded
// shared secret.
const SharedSecretEnv = "R_TYPE_SHARED_SECRET"

const minSecretBytes = 32

// LoadSharedSecret reads and hex-decodes SharedSecretEnv. An absent or
// too-short secret is a boot-time fatal error: startup fails rather than
// falling back to a baked-in secret.
func LoadSharedSecret() ([]byte, error) {
	hexVal := os.Getenv(SharedSecretEnv)
	if hexVal == "" {
		return nil, fmt.Errorf("%s is not set", SharedSecretEnv)
	}
	secret, err := hex.DecodeString(hexVal)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", SharedSecretEnv, err)
	}
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("%s must decode to at least %d bytes of entropy", SharedSecretEnv, minSecretBytes)
	}
	return secret, nil
}

// AuthState is the per-session auth state machine: None -> Challenged
// -> Authenticated, with a reap-only path back to None.
type AuthState uint8

const (
	AuthNone AuthState = iota
	AuthChallenged
	AuthAuthenticated
)

type challenge struct {
	timestamp int64
	cookie    [sha256.Size]byte
	peerIP    string
	issuedAt  time.Time
}

// Engine is the stateless-cookie auth component (C9). It keeps no
// per-peer secret between JOIN and AUTH: it records which client IDs
// hold an outstanding challenge, and verification recomputes the cookie
// from the shared secret, peer IP, nonce and timestamp rather than
// comparing against a stored value.
type Engine struct {
	secret []byte

	mu         sync.Mutex
	challenged map[uint32]*challenge
	limiters   map[attemptKey]*rate.Limiter
}

type attemptKey struct {
	peerIP   string
	clientID uint32
}

func NewEngine(secret []byte) *Engine {
	return &Engine{
		secret:     secret,
		challenged: make(map[uint32]*challenge),
		limiters:   make(map[attemptKey]*rate.Limiter),
	}
}

func cookie(secret []byte, peerIP net.IP, nonce uint8, timestamp int64) [sha256.Size]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(peerIP.To16())
	mac.Write([]byte{nonce})
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	mac.Write(ts[:])
	var out [sha256.Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Challenge handles an incoming JOIN: it issues a CHALLENGE binding
// clientID to peerIP+nonce+now.
func (e *Engine) Challenge(clientID uint32, peerIP net.IP, nonce uint8, now time.Time) (timestamp int64, cookieOut [sha256.Size]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	timestamp = now.Unix()
	cookieOut = cookie(e.secret, peerIP, nonce, timestamp)

	e.challenged[clientID] = &challenge{
		timestamp: timestamp,
		cookie:    cookieOut,
		peerIP:    peerIP.String(),
		issuedAt:  now,
	}
	return timestamp, cookieOut
}

// attemptAllowed enforces MaxAuthAttempts per (peer_ip, ClientID) per
// AuthTimeout window, via a token-bucket approximation (one token
// refilled every AuthTimeout/MaxAuthAttempts, burst MaxAuthAttempts).
func (e *Engine) attemptAllowed(peerIP net.IP, clientID uint32) bool {
	key := attemptKey{peerIP: peerIP.String(), clientID: clientID}
	lim, ok := e.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(AuthTimeout/MaxAuthAttempts), MaxAuthAttempts)
		e.limiters[key] = lim
	}
	return lim.Allow()
}

// Verify handles an incoming AUTH. It requires an outstanding challenge
// for clientID and accepts iff some t in [now-AuthTimeout, now]
// reproduces the presented cookie under a constant-time compare. On
// success it derives the session key and returns AuthAuthenticated;
// otherwise the frame is dropped (the caller does nothing further) and
// the state remains AuthChallenged or AuthNone.
func (e *Engine) Verify(clientID uint32, peerIP net.IP, nonce uint8, presented [sha256.Size]byte, now time.Time) (sessionKey []byte, state AuthState) {
	e.mu.Lock()
	_, ok := e.challenged[clientID]
	e.mu.Unlock()

	if !ok {
		return nil, AuthNone
	}

	if !e.attemptAllowed(peerIP, clientID) {
		return nil, AuthChallenged
	}

	for t := now.Unix(); t >= now.Add(-AuthTimeout).Unix(); t-- {
		candidate := cookie(e.secret, peerIP, nonce, t)
		if subtle.ConstantTimeCompare(candidate[:], presented[:]) == 1 {
			e.mu.Lock()
			delete(e.challenged, clientID)
			e.mu.Unlock()

			key, err := deriveSessionKey(e.secret, t)
			if err != nil {
				return nil, AuthChallenged
			}
			return key, AuthAuthenticated
		}
	}
	return nil, AuthChallenged
}

// deriveSessionKey computes HKDF-SHA256(secret, salt=timestamp_bytes)[:32].
func deriveSessionKey(secret []byte, timestamp int64) ([]byte, error) {
	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], uint64(timestamp))

	kdf := hkdf.New(sha256.New, secret, salt[:], []byte("rtype-gs-session-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ReapChallenged drops every Challenged session older than AuthTimeout,
// returning the affected client IDs.
func (e *Engine) ReapChallenged(now time.Time) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var reaped []uint32
	for id, ch := range e.challenged {
		if now.Sub(ch.issuedAt) > AuthTimeout {
			reaped = append(reaped, id)
			delete(e.challenged, id)
		}
	}
	return reaped
}
