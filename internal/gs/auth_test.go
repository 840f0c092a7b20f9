package gs

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	s := make([]byte, minSecretBytes)
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestAuthFlow_ChallengeThenVerify(t *testing.T) {
	e := NewEngine(testSecret())
	ip := net.ParseIP("203.0.113.7")
	now := time.Unix(1_700_000_000, 0)

	timestamp, cookie := e.Challenge(1, ip, 5, now)
	assert.Equal(t, now.Unix(), timestamp)

	key, state := e.Verify(1, ip, 5, cookie, now)
	require.Equal(t, AuthAuthenticated, state)
	assert.Len(t, key, 32)
}

func TestAuthFlow_WrongCookieIsRejected(t *testing.T) {
	e := NewEngine(testSecret())
	ip := net.ParseIP("203.0.113.7")
	now := time.Unix(1_700_000_000, 0)

	_, cookie := e.Challenge(1, ip, 5, now)
	cookie[0] ^= 0xFF

	_, state := e.Verify(1, ip, 5, cookie, now)
	assert.Equal(t, AuthChallenged, state)
}

func TestAuthFlow_UnknownClientIsRejected(t *testing.T) {
	e := NewEngine(testSecret())
	ip := net.ParseIP("203.0.113.7")
	var cookie [32]byte
	_, state := e.Verify(99, ip, 0, cookie, time.Unix(0, 0))
	assert.Equal(t, AuthNone, state)
}

func TestAuthFlow_AcceptsWithinTimeWindow(t *testing.T) {
	e := NewEngine(testSecret())
	ip := net.ParseIP("203.0.113.7")
	issued := time.Unix(1_700_000_000, 0)

	_, cookie := e.Challenge(1, ip, 5, issued)

	later := issued.Add(AuthTimeout - time.Second)
	_, state := e.Verify(1, ip, 5, cookie, later)
	assert.Equal(t, AuthAuthenticated, state)
}

func TestAuthFlow_RateLimitsAttempts(t *testing.T) {
	e := NewEngine(testSecret())
	ip := net.ParseIP("203.0.113.7")
	now := time.Unix(1_700_000_000, 0)
	_, good := e.Challenge(1, ip, 5, now)
	cookie := good
	cookie[0] ^= 0xFF // force every attempt to fail verification

	var lastState AuthState
	for i := 0; i < MaxAuthAttempts+2; i++ {
		_, lastState = e.Verify(1, ip, 5, cookie, now)
	}
	assert.Equal(t, AuthChallenged, lastState)

	// Once the attempts are spent, even the correct cookie is refused.
	_, state := e.Verify(1, ip, 5, good, now)
	assert.Equal(t, AuthChallenged, state)
}

func TestReapChallenged_DropsExpiredChallenges(t *testing.T) {
	e := NewEngine(testSecret())
	ip := net.ParseIP("203.0.113.7")
	now := time.Unix(0, 0)
	e.Challenge(1, ip, 0, now)

	reaped := e.ReapChallenged(now.Add(AuthTimeout + time.Millisecond))
	assert.Equal(t, []uint32{1}, reaped)

	_, state := e.Verify(1, ip, 0, [32]byte{}, now)
	assert.Equal(t, AuthNone, state)
}

func TestLoadSharedSecret_RejectsShortSecret(t *testing.T) {
	t.Setenv(SharedSecretEnv, "aabbcc")
	_, err := LoadSharedSecret()
	assert.Error(t, err)
}

func TestLoadSharedSecret_RejectsMissing(t *testing.T) {
	t.Setenv(SharedSecretEnv, "")
	_, err := LoadSharedSecret()
	assert.Error(t, err)
}
