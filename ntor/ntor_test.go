package ntor

import (
	"testing"

	"github.com/cvsouth/lodp-go/lodpcrypto"
	"github.com/cvsouth/lodp-go/lodperr"
)

// TestHandshakeAgreement is §8 property 3 (handshake agreement) and
// the ntor portion of scenario S1: both sides of
// a genuine exchange derive the same shared secret and verifier, and
// symmetric traffic keys in opposite directions.
func TestHandshakeAgreement(t *testing.T) {
	longTerm, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	initEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	respEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	initResult, err := Run(Params{
		Role:          Initiator,
		OwnEphemeral:  initEph,
		PeerEphemeral: respEph.Public,
		LongTerm:      lodpcrypto.KeyPair{Public: longTerm.Public},
	})
	if err != nil {
		t.Fatalf("initiator Run: %v", err)
	}

	respResult, err := Run(Params{
		Role:          Responder,
		OwnEphemeral:  respEph,
		PeerEphemeral: initEph.Public,
		LongTerm:      longTerm,
	})
	if err != nil {
		t.Fatalf("responder Run: %v", err)
	}

	if initResult.SharedSecret != respResult.SharedSecret {
		t.Fatal("shared secrets disagree")
	}
	if initResult.Verifier != respResult.Verifier {
		t.Fatal("verifiers disagree")
	}
	if initResult.TxKey != respResult.RxKey {
		t.Fatal("initiator tx key != responder rx key")
	}
	if initResult.RxKey != respResult.TxKey {
		t.Fatal("initiator rx key != responder tx key")
	}
}

// TestHandshakeAuthenticationFailsOnSubstitutedLongTerm is §8 property
// 4's negative half: a substituted long-term B makes the two sides
// derive different verifiers, which is how the HANDSHAKE_ACK handler
// detects the forgery.
func TestHandshakeAuthenticationFailsOnSubstitutedLongTerm(t *testing.T) {
	realLongTerm, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	wrongLongTerm, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	initEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	respEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	initResult, err := Run(Params{
		Role:          Initiator,
		OwnEphemeral:  initEph,
		PeerEphemeral: respEph.Public,
		LongTerm:      lodpcrypto.KeyPair{Public: wrongLongTerm.Public},
	})
	if err != nil {
		t.Fatalf("initiator Run: %v", err)
	}
	respResult, err := Run(Params{
		Role:          Responder,
		OwnEphemeral:  respEph,
		PeerEphemeral: initEph.Public,
		LongTerm:      realLongTerm,
	})
	if err != nil {
		t.Fatalf("responder Run: %v", err)
	}

	if initResult.Verifier == respResult.Verifier {
		t.Fatal("verifiers unexpectedly agree despite substituted long-term key")
	}
}

// TestRejectsInvalidPeerEphemeral covers the small-order/identity
// rejection half of §8 property 4.
func TestRejectsInvalidPeerEphemeral(t *testing.T) {
	longTerm, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	ownEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	var identity lodpcrypto.PublicKey // all-zero: rejected by ValidatePublicKey

	_, err = Run(Params{
		Role:          Responder,
		OwnEphemeral:  ownEph,
		PeerEphemeral: identity,
		LongTerm:      longTerm,
	})
	if err != lodperr.ErrBadHandshake {
		t.Fatalf("got %v, want ErrBadHandshake", err)
	}
}

func TestResultWipeZeroesEverything(t *testing.T) {
	longTerm, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	initEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	respEph, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(Params{
		Role:          Initiator,
		OwnEphemeral:  initEph,
		PeerEphemeral: respEph.Public,
		LongTerm:      lodpcrypto.KeyPair{Public: longTerm.Public},
	})
	if err != nil {
		t.Fatal(err)
	}

	res.Wipe()
	var zero [lodpcrypto.MACDigestLen]byte
	if res.SharedSecret != zero {
		t.Fatal("SharedSecret not wiped")
	}
	if res.Verifier != zero {
		t.Fatal("Verifier not wiped")
	}
	var zeroMAC lodpcrypto.MACKey
	var zeroBulk lodpcrypto.BulkKey
	if res.TxKey.MACKey != zeroMAC || res.TxKey.BulkKey != zeroBulk {
		t.Fatal("TxKey not wiped")
	}
	if res.RxKey.MACKey != zeroMAC || res.RxKey.BulkKey != zeroBulk {
		t.Fatal("RxKey not wiped")
	}
}
