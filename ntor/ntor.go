// Package ntor implements the modified ntor handshake (§4.7): a
// Diffie-Hellman authenticated key agreement adapted from Tor's ntor
// to additionally produce an explicit verifier MAC the responder
// sends back to prove possession of the long-term private key.
package ntor

import (
	"github.com/cvsouth/lodp-go/lodpcrypto"
	"github.com/cvsouth/lodp-go/lodperr"
)

const (
	protoID   = "lodp-ntor-1"
	responder = "Responder"
)

var (
	ssKey     = padKey(protoID + ":key_extract")
	verifyKey = padKey(protoID + ":key_expand")
	authKey   = padKey(protoID + ":mac")
)

// padKey returns s NUL-padded to lodpcrypto.MACKeyLen, the layout the
// original source uses for the three fixed ntor MAC keys.
func padKey(s string) lodpcrypto.MACKey {
	var k lodpcrypto.MACKey
	copy(k[:], s)
	return k
}

// Role distinguishes which side of the handshake is running: the
// EXP() argument order and the traffic-key assignment both depend on it.
type Role int

const (
	Initiator Role = iota
	Responder
)

// Result is everything §4.7 says must be produced and then (after the
// caller copies out what it needs) wiped: the session master secret,
// the verifier MAC, and the two direction-asymmetric traffic key pairs.
type Result struct {
	SharedSecret [lodpcrypto.MACDigestLen]byte
	Verifier     [lodpcrypto.MACDigestLen]byte
	TxKey        lodpcrypto.SymmetricKey
	RxKey        lodpcrypto.SymmetricKey
}

// Wipe zeros every secret field of r.
func (r *Result) Wipe() {
	lodpcrypto.Wipe(r.SharedSecret[:])
	lodpcrypto.Wipe(r.Verifier[:])
	r.TxKey.Wipe()
	r.RxKey.Wipe()
}

// Params bundles the public values and local scalar the handshake
// needs. ownEphemeral is (X,x) for the initiator and (Y,y) for the
// responder; longTerm is the responder's long-term (B,b) — the
// initiator supplies only the public half (known out of band), with
// Private left zero and unused.
type Params struct {
	Role          Role
	OwnEphemeral  lodpcrypto.KeyPair
	PeerEphemeral lodpcrypto.PublicKey // initiator: Y; responder: X
	LongTerm      lodpcrypto.KeyPair
}

// Run executes the handshake described in §4.7 and returns the
// derived secrets, or lodperr.ErrBadHandshake if any peer-supplied
// public key fails validation.
//
// Initiator computes s1 = EXP(Y,x), s2 = EXP(B,x).
// Responder  computes s1 = EXP(X,y), s2 = EXP(X,b).
func Run(p Params) (*Result, error) {
	var s1, s2 lodpcrypto.SharedSecret
	var err error

	switch p.Role {
	case Initiator:
		if err = lodpcrypto.ValidatePublicKey(&p.PeerEphemeral); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
		if s1, err = lodpcrypto.ECDH(&p.OwnEphemeral.Private, &p.PeerEphemeral); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
		if err = lodpcrypto.ValidatePublicKey(&p.LongTerm.Public); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
		if s2, err = lodpcrypto.ECDH(&p.OwnEphemeral.Private, &p.LongTerm.Public); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
	case Responder:
		if err = lodpcrypto.ValidatePublicKey(&p.PeerEphemeral); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
		if s1, err = lodpcrypto.ECDH(&p.OwnEphemeral.Private, &p.PeerEphemeral); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
		if s2, err = lodpcrypto.ECDH(&p.LongTerm.Private, &p.PeerEphemeral); err != nil {
			return nil, lodperr.ErrBadHandshake
		}
	default:
		return nil, lodperr.ErrBadHandshake
	}
	defer lodpcrypto.Wipe(s1[:])
	defer lodpcrypto.Wipe(s2[:])

	var X, Y lodpcrypto.PublicKey
	switch p.Role {
	case Initiator:
		X, Y = p.OwnEphemeral.Public, p.PeerEphemeral
	case Responder:
		X, Y = p.PeerEphemeral, p.OwnEphemeral.Public
	}

	secretInput := make([]byte, 0, len(s1)+len(s2)+3*lodpcrypto.ECDHPublicKeyLen+len(protoID))
	secretInput = append(secretInput, s1[:]...)
	secretInput = append(secretInput, s2[:]...)
	secretInput = append(secretInput, p.LongTerm.Public[:]...)
	secretInput = append(secretInput, X[:]...)
	secretInput = append(secretInput, Y[:]...)
	secretInput = append(secretInput, []byte(protoID)...)
	defer lodpcrypto.Wipe(secretInput)

	var res Result

	sharedSecret, err := lodpcrypto.MAC(&ssKey, secretInput, lodpcrypto.MACDigestLen)
	if err != nil {
		return nil, err
	}
	copy(res.SharedSecret[:], sharedSecret)
	defer lodpcrypto.Wipe(sharedSecret)

	verify, err := lodpcrypto.MAC(&verifyKey, secretInput, lodpcrypto.MACDigestLen)
	if err != nil {
		return nil, err
	}
	defer lodpcrypto.Wipe(verify)

	authInput := make([]byte, 0, len(verify)+3*lodpcrypto.ECDHPublicKeyLen+len(protoID)+len(responder))
	authInput = append(authInput, verify...)
	authInput = append(authInput, p.LongTerm.Public[:]...)
	authInput = append(authInput, X[:]...)
	authInput = append(authInput, Y[:]...)
	authInput = append(authInput, []byte(protoID)...)
	authInput = append(authInput, []byte(responder)...)
	defer lodpcrypto.Wipe(authInput)

	verifier, err := lodpcrypto.MAC(&authKey, authInput, lodpcrypto.MACDigestLen)
	if err != nil {
		return nil, err
	}
	copy(res.Verifier[:], verifier)

	keyA, keyB, err := lodpcrypto.DeriveSessionKeys(res.SharedSecret[:])
	if err != nil {
		return nil, err
	}
	switch p.Role {
	case Initiator:
		res.TxKey, res.RxKey = keyA, keyB
	case Responder:
		res.RxKey, res.TxKey = keyA, keyB
	}

	return &res, nil
}
