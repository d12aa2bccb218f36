package session

import (
	"net"
	"testing"
	"time"

	"github.com/cvsouth/lodp-go/lodpcrypto"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	ep, err := NewEndpoint(fixedClock{now: time.Unix(0, 0)}, Callbacks{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

// TestScrubDiscipline is §8 property 6.
func TestScrubDiscipline(t *testing.T) {
	ep := newTestEndpoint(t)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
	s := NewSession(ep, addr, RoleInitiator, nil)

	kp, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	s.SessionECDHKeypair = kp
	if err := lodpcrypto.RandBytes(s.SessionSecret[:]); err != nil {
		t.Fatal(err)
	}
	if err := lodpcrypto.RandBytes(s.SessionSecretVerifier[:]); err != nil {
		t.Fatal(err)
	}
	s.Cookie = []byte{1, 2, 3, 4}

	s.ScrubHandshakeMaterial()

	var zeroKP lodpcrypto.KeyPair
	if s.SessionECDHKeypair.Private != zeroKP.Private {
		t.Fatal("SessionECDHKeypair.Private not wiped")
	}
	var zeroDigest [lodpcrypto.MACDigestLen]byte
	if s.SessionSecret != zeroDigest {
		t.Fatal("SessionSecret not wiped")
	}
	if s.SessionSecretVerifier != zeroDigest {
		t.Fatal("SessionSecretVerifier not wiped")
	}
	if s.Cookie != nil {
		t.Fatal("Cookie not cleared")
	}
}

func TestEndpointSessionTable(t *testing.T) {
	ep := newTestEndpoint(t)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4433}
	s := NewSession(ep, addr, RoleResponder, nil)
	s.State = StateEstablished

	if ep.Lookup(addr) != nil {
		t.Fatal("session visible before Put")
	}
	ep.Put(s)
	if got := ep.Lookup(addr); got != s {
		t.Fatalf("Lookup returned %v, want %v", got, s)
	}
	ep.Remove(addr)
	if ep.Lookup(addr) != nil {
		t.Fatal("session still visible after Remove")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateInit:        "INIT",
		StateHandshake:   "HANDSHAKE",
		StateEstablished: "ESTABLISHED",
		StateError:       "ERROR",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestNewEndpointUsesSystemClockWhenNil(t *testing.T) {
	ep, err := NewEndpoint(nil, Callbacks{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Cookies == nil {
		t.Fatal("Cookies keyring not initialized")
	}
}
