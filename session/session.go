// Package session implements the per-endpoint and per-peer state
// described in §3: the long-term intro identity an endpoint
// advertises, and the per-peer state machine (INIT/HANDSHAKE/
// ESTABLISHED/ERROR) each connection moves through.
//
// Per §5's single-threaded cooperative scheduling model, neither
// Endpoint nor Session carries internal locking; the host is
// responsible for serializing all calls into a given Endpoint.
package session

import (
	"net"

	"github.com/cvsouth/lodp-go/cookie"
	"github.com/cvsouth/lodp-go/lodpcrypto"
)

// State is a Session's position in the handshake state machine.
type State int

const (
	StateInit State = iota
	StateHandshake
	StateEstablished
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHandshake:
		return "HANDSHAKE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role identifies which side of a connection a Session represents.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Callbacks is the host-supplied callback table (§6): the protocol
// core never blocks or queues — every callback runs synchronously,
// inline, from whichever entry point triggered it.
type Callbacks struct {
	// SendTo transmits bytes to addr. Expected to be non-blocking; any
	// queueing on backpressure is the host's responsibility.
	SendTo func(ctx any, b []byte, addr net.Addr) error
	// PrePad is the optional padding hook (§4.2 step 1). A nil PrePad
	// requests no padding.
	PrePad func(ctx any, curLen, mss int) int
	// OnAccept fires once per inbound (responder) session, after the
	// HANDSHAKE_ACK has been sent.
	OnAccept func(ctx any, s *Session, addr net.Addr)
	// OnConnect fires once for an outbound (initiator) session with
	// the final handshake outcome (nil on success).
	OnConnect func(ctx any, s *Session, err error)
	// OnRecv delivers application payload from a DATA packet.
	OnRecv func(ctx any, s *Session, payload []byte) error
	// OnHeartbeatAck is optional; nil is a valid "ignore" registration.
	OnHeartbeatAck func(ctx any, s *Session, payload []byte)
}

// Endpoint is process-wide-per-listener state (§3 Endpoint): the
// long-term identity advertised to initiators, the symmetric keys used
// to protect handshake packets before any session exists, and the
// cookie keyring used to gate HANDSHAKE acceptance.
type Endpoint struct {
	IntroKeypair lodpcrypto.KeyPair
	IntroSymKeys lodpcrypto.SymmetricKey
	HasIntroKeys bool
	Cookies      *cookie.Keyring
	Callbacks    Callbacks
	Ctx          any
	Sessions     map[string]*Session
}

// NewEndpoint constructs an Endpoint with no intro identity installed;
// call InstallIntroKeys before accepting inbound connections.
func NewEndpoint(clock cookie.Clock, cb Callbacks, ctx any) (*Endpoint, error) {
	kr, err := cookie.NewKeyring(clock)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		Cookies:   kr,
		Callbacks: cb,
		Ctx:       ctx,
		Sessions:  make(map[string]*Session),
	}, nil
}

// InstallIntroKeys sets the endpoint's long-term identity and the
// symmetric key pair used to encrypt handshake packets (§3 Endpoint
// invariant: if HasIntroKeys, both fields are valid together).
func (ep *Endpoint) InstallIntroKeys(keypair lodpcrypto.KeyPair, symKeys lodpcrypto.SymmetricKey) {
	ep.IntroKeypair = keypair
	ep.IntroSymKeys = symKeys
	ep.HasIntroKeys = true
}

// Lookup returns the session for addr, if any.
func (ep *Endpoint) Lookup(addr net.Addr) *Session {
	return ep.Sessions[addr.String()]
}

// Put indexes s by its PeerAddr.
func (ep *Endpoint) Put(s *Session) {
	ep.Sessions[s.PeerAddr.String()] = s
}

// Remove drops addr's session from the table. It does not scrub the
// session; callers that want scrubbing-on-destroy should call
// Session.Wipe first.
func (ep *Endpoint) Remove(addr net.Addr) {
	delete(ep.Sessions, addr.String())
}

// RotateCookies is the host-driven timer entry point §5 describes: a
// host that calls this once per cookie.RotateInterval keeps the
// cookie schedule moving forward even during a lull in INIT/HANDSHAKE
// traffic, instead of relying solely on the lazy rotation a future
// Generate/Validate call would otherwise trigger.
func (ep *Endpoint) RotateCookies() error {
	return ep.Cookies.Rotate()
}

// Session is a per-peer connection (§3 Session) holding the state
// machine position, handshake material, and the traffic keys it
// produces.
//
// ep is a non-owning back-reference (§9 "cyclic ownership
// endpoint<->session"): the Endpoint's Sessions table owns the
// Session; this field exists only so handlers can reach callbacks
// and intro-key material without threading the Endpoint through
// every call.
type Session struct {
	ep       *Endpoint
	PeerAddr net.Addr
	Role     Role
	State    State

	SessionECDHKeypair lodpcrypto.KeyPair
	RemotePublicKey    lodpcrypto.PublicKey

	TxKey lodpcrypto.SymmetricKey
	RxKey lodpcrypto.SymmetricKey

	SessionSecret         [lodpcrypto.MACDigestLen]byte
	SessionSecretVerifier [lodpcrypto.MACDigestLen]byte

	Cookie []byte // owned, variable-length, opaque to the initiator (§9)

	SeenPeerData bool

	Ctx any
}

// NewSession creates a Session bound to ep, not yet indexed in the
// endpoint's session table; callers must Put it once peerAddr is
// confirmed.
func NewSession(ep *Endpoint, peerAddr net.Addr, role Role, ctx any) *Session {
	return &Session{
		ep:       ep,
		PeerAddr: peerAddr,
		Role:     role,
		State:    StateInit,
		Ctx:      ctx,
	}
}

// Endpoint returns the session's owning endpoint.
func (s *Session) Endpoint() *Endpoint { return s.ep }

// ScrubHandshakeMaterial zeroes everything the handshake touched,
// per §3's scrub points and §8 property 6: after ESTABLISHED
// (initiator) or first DATA (responder), SessionECDHKeypair,
// SessionSecret, SessionSecretVerifier, and Cookie must all read as
// zero bytes.
func (s *Session) ScrubHandshakeMaterial() {
	s.SessionECDHKeypair.Wipe()
	lodpcrypto.Wipe(s.SessionECDHKeypair.Public[:])
	lodpcrypto.Wipe(s.SessionSecret[:])
	lodpcrypto.Wipe(s.SessionSecretVerifier[:])
	if s.Cookie != nil {
		lodpcrypto.Wipe(s.Cookie)
		s.Cookie = nil
	}
}

// Wipe scrubs every secret a Session can hold, including the
// installed traffic keys; used on session destruction (§3 lifecycle
// point (c)).
func (s *Session) Wipe() {
	s.ScrubHandshakeMaterial()
	s.TxKey.Wipe()
	s.RxKey.Wipe()
}
