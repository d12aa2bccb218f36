// Package cookie implements the DTLS-style stateless cookie used to
// mitigate amplification and memory-exhaustion attacks during
// connection setup (§4.3, §3 Cookie).
package cookie

import (
	"net"
	"time"

	"github.com/cvsouth/lodp-go/lodpcrypto"
	"github.com/cvsouth/lodp-go/lodperr"
	"github.com/cvsouth/lodp-go/wire"
)

// RotateInterval is COOKIE_ROTATE_INTERVAL: how long a cookie key
// stays current before a new one is generated.
const RotateInterval = 30 * time.Second

// GraceWindow is COOKIE_GRACE_WINDOW: how long the previous cookie
// key continues to validate after rotation.
const GraceWindow = 15 * time.Second

// Clock abstracts wall-clock time so tests can drive rotation
// deterministically (§9 Design notes: "Global time() dependency").
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Keyring holds an endpoint's current and previous cookie MAC keys
// and their rotation schedule (§3 Endpoint.cookie_key/prev_cookie_key).
//
// Per §5's single-threaded cooperative model, Keyring has no internal
// locking: the host must serialize all calls into one Endpoint.
type Keyring struct {
	clock      Clock
	current    lodpcrypto.MACKey
	previous   lodpcrypto.MACKey
	rotateTime time.Time
	expireTime time.Time
}

// NewKeyring creates a keyring with a freshly generated current key.
func NewKeyring(clock Clock) (*Keyring, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	kr := &Keyring{clock: clock}
	if err := lodpcrypto.RandBytes(kr.current[:]); err != nil {
		return nil, err
	}
	now := clock.Now()
	kr.rotateTime = now
	kr.expireTime = now.Add(-time.Nanosecond) // previous key (zero) is already stale
	return kr, nil
}

// Rotate unconditionally rotates the cookie key one nominal
// RotateInterval step forward: the current key becomes the previous
// key (valid until GraceWindow past the nominal boundary), and a
// fresh key is generated. This is the host-driven timer entry point
// described in §5 ("the host must periodically call the cookie
// rotation entry point"); Generate also calls rotateIfDue so rotation
// happens even if the host never calls this directly (§4.3 Key
// rotation, SPEC_FULL.md §4).
//
// rotateTime/expireTime always advance by exactly RotateInterval and
// GraceWindow from the *nominal* schedule, never from the wall-clock
// instant Rotate happened to run at. A host calling Rotate late (or a
// lazy rotateIfDue call landing well after the boundary) must not
// grant the previous key extra, call-time-dependent grace — spec.md
// §8 S2 validates against the fixed schedule, not against whenever a
// packet happened to arrive and trigger the lazy check.
func (kr *Keyring) Rotate() error {
	kr.previous = kr.current
	if err := lodpcrypto.RandBytes(kr.current[:]); err != nil {
		return err
	}
	kr.rotateTime = kr.rotateTime.Add(RotateInterval)
	kr.expireTime = kr.rotateTime.Add(GraceWindow)
	return nil
}

// rotateIfDue catches the key up to the nominal schedule, rotating
// once per elapsed RotateInterval (in case a host goes a while without
// calling Generate/Validate or its own timer). The boundary check is
// inclusive (>=) so a call landing exactly on the boundary rotates.
func (kr *Keyring) rotateIfDue() error {
	for !kr.clock.Now().Before(kr.rotateTime.Add(RotateInterval)) {
		if err := kr.Rotate(); err != nil {
			return err
		}
	}
	return nil
}

// addrBlob builds the addr||port||introMACKey||introBulkKey input to
// the cookie MAC (§3 Cookie, original lodp_pkt.c generate_cookie).
func addrBlob(addr net.IP, port uint16, peerKeys *lodpcrypto.SymmetricKey) ([]byte, error) {
	var ipBytes []byte
	if v4 := addr.To4(); v4 != nil {
		ipBytes = v4
	} else if v6 := addr.To16(); v6 != nil {
		ipBytes = v6
	} else {
		return nil, lodperr.ErrAFNotSupported
	}

	blob := make([]byte, 0, len(ipBytes)+2+lodpcrypto.MACKeyLen+lodpcrypto.BulkKeyLen)
	blob = append(blob, ipBytes...)
	blob = append(blob, byte(port>>8), byte(port))
	blob = append(blob, peerKeys.MACKey[:]...)
	blob = append(blob, peerKeys.BulkKey[:]...)
	return blob, nil
}

// Generate computes the cookie for (addr, port, peerKeys), keyed by
// the current cookie key unless usePrevKey is set. pktType must be
// wire.TypeInit or wire.TypeHandshake — any other caller is a
// programming error (§4.3: "Only INIT and HANDSHAKE packets may drive
// cookie generation").
func (kr *Keyring) Generate(usePrevKey bool, pktType uint8, addr net.IP, port uint16, peerKeys *lodpcrypto.SymmetricKey) ([]byte, error) {
	if pktType != wire.TypeInit && pktType != wire.TypeHandshake {
		return nil, lodperr.ErrBadPacket
	}
	if err := kr.rotateIfDue(); err != nil {
		return nil, err
	}

	blob, err := addrBlob(addr, port, peerKeys)
	if err != nil {
		return nil, err
	}

	key := &kr.current
	if usePrevKey {
		key = &kr.previous
	}
	return lodpcrypto.MAC(key, blob, wire.CookieLen)
}

// Validate checks a HANDSHAKE-carried cookie against the current key,
// falling back to the previous key within the grace window (§4.3
// Cookie validation).
func (kr *Keyring) Validate(addr net.IP, port uint16, peerKeys *lodpcrypto.SymmetricKey, received []byte) error {
	want, err := kr.Generate(false, wire.TypeHandshake, addr, port, peerKeys)
	if err != nil {
		return err
	}
	if lodpcrypto.ConstantTimeCompare(want, received) {
		return nil
	}

	if kr.clock.Now().After(kr.expireTime) {
		return lodperr.ErrInvalidCookie
	}
	prevWant, err := kr.Generate(true, wire.TypeHandshake, addr, port, peerKeys)
	if err != nil {
		return err
	}
	if lodpcrypto.ConstantTimeCompare(prevWant, received) {
		return nil
	}
	return lodperr.ErrInvalidCookie
}
