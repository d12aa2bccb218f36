// Package lodpcrypto is the crypto façade described in §6 of the
// protocol core: opaque primitive interfaces for randomness,
// constant-time comparison, secret wiping, MAC, bulk encryption, and
// ECDH key agreement. Nothing above this package is allowed to touch
// a concrete primitive directly.
package lodpcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// MACKeyLen is the length of a MAC key.
	MACKeyLen = 32
	// MACDigestLen is the length of a MAC digest (§6 mac()).
	MACDigestLen = blake2s.Size
	// BulkKeyLen is the length of a bulk cipher key.
	BulkKeyLen = chacha20.KeySize
	// BulkIVLen is the length of the cipher IV/nonce carried on the wire.
	BulkIVLen = chacha20.NonceSize
	// ECDHPublicKeyLen is the length of a Curve25519 public key.
	ECDHPublicKeyLen = 32
	// ECDHPrivateKeyLen is the length of a Curve25519 scalar.
	ECDHPrivateKeyLen = 32
	// ECDHSecretLen is the length of a raw ECDH shared point.
	ECDHSecretLen = 32
)

// ErrInvalidPublicKey is returned by ValidatePublicKey for identity or
// small-order points.
var ErrInvalidPublicKey = errors.New("lodpcrypto: invalid public key")

// MACKey is a keyed-MAC key.
type MACKey [MACKeyLen]byte

// BulkKey is a bulk-cipher key.
type BulkKey [BulkKeyLen]byte

// SymmetricKey is the (MAC key, bulk key) pair the protocol always
// moves as a unit (§3 Endpoint.intro_sym_keys, Session.tx_key/rx_key).
type SymmetricKey struct {
	MACKey  MACKey
	BulkKey BulkKey
}

// Wipe zeros the key material in place.
func (k *SymmetricKey) Wipe() {
	Wipe(k.MACKey[:])
	Wipe(k.BulkKey[:])
}

// PublicKey is a Curve25519 public value.
type PublicKey [ECDHPublicKeyLen]byte

// PrivateKey is a Curve25519 scalar.
type PrivateKey [ECDHPrivateKeyLen]byte

// KeyPair is an ephemeral or long-term ECDH keypair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// Wipe zeros the private half of the keypair; the public half is not secret.
func (kp *KeyPair) Wipe() {
	Wipe(kp.Private[:])
}

// SharedSecret is the raw output of a single ECDH scalar multiply.
type SharedSecret [ECDHSecretLen]byte

// RandBytes fills out with cryptographically strong randomness.
func RandBytes(out []byte) error {
	_, err := io.ReadFull(rand.Reader, out)
	return err
}

// GenerateKeyPair produces a fresh ephemeral or long-term ECDH keypair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if err := RandBytes(kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Wipe is the compiler-barrier-proof zeroing primitive (§9 Secret
// hygiene). clear() on a slice is specified to use a non-elidable
// write, which is what the optimizer-resistance requirement needs.
func Wipe(p []byte) {
	clear(p)
}

// ConstantTimeCompare is the constant-time equality primitive used for
// MAC, cookie, and verifier comparisons.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// MAC computes a keyed digest over msg, truncated/sized to outLen
// bytes (outLen must be <= MACDigestLen).
func MAC(key *MACKey, msg []byte, outLen int) ([]byte, error) {
	h, err := blake2s.New256(key[:])
	if err != nil {
		return nil, err
	}
	h.Write(msg)
	digest := h.Sum(nil)
	if outLen > len(digest) {
		return nil, errors.New("lodpcrypto: requested MAC length exceeds digest size")
	}
	return digest[:outLen], nil
}

// Encrypt runs the bulk stream cipher over src, writing len(src) bytes to dst.
func Encrypt(key *BulkKey, iv []byte, dst, src []byte) error {
	return xor(key, iv, dst, src)
}

// Decrypt is identical to Encrypt: the protocol's bulk cipher is an
// unauthenticated stream cipher, so encryption and decryption are the
// same XOR-keystream operation.
func Decrypt(key *BulkKey, iv []byte, dst, src []byte) error {
	return xor(key, iv, dst, src)
}

func xor(key *BulkKey, iv []byte, dst, src []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], iv)
	if err != nil {
		return err
	}
	c.XORKeyStream(dst, src)
	return nil
}

// ECDH performs a scalar multiply of priv against pub.
func ECDH(priv *PrivateKey, pub *PublicKey) (SharedSecret, error) {
	var secret SharedSecret
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return secret, err
	}
	copy(secret[:], out)
	return secret, nil
}

// ValidatePublicKey rejects the identity point and the small set of
// known low-order Curve25519 points, the same class of check the
// original ntor_handshake performs via lodp_ecdh_validate_pubkey
// before trusting a peer-supplied X or B.
func ValidatePublicKey(pub *PublicKey) error {
	if isZero(pub[:]) {
		return ErrInvalidPublicKey
	}
	for _, bad := range lowOrderPoints {
		if ConstantTimeCompare(pub[:], bad[:]) {
			return ErrInvalidPublicKey
		}
	}
	return nil
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// lowOrderPoints are the well-known order-{1,2,4,8} Curve25519 points
// (see the Curve25519 small-subgroup attack literature); any of these
// as a peer's ephemeral or identity key makes the resulting ECDH
// output predictable regardless of the other party's scalar.
var lowOrderPoints = [...]PublicKey{
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0xe0, 0xeb, 0x7a, 0x7c, 0x3b, 0x41, 0xb8, 0xae, 0x16, 0x56, 0xe3, 0xfa, 0xf1, 0x9f, 0xc4, 0x6a, 0xda, 0x09, 0x8d, 0xeb, 0x9c, 0x32, 0xb1, 0xfd, 0x86, 0x62, 0x05, 0x16, 0x5f, 0x49, 0xb8, 0x00},
	{0x5f, 0x9c, 0x95, 0xbc, 0xa3, 0x50, 0x8c, 0x24, 0xb1, 0xd0, 0xb1, 0x55, 0x9c, 0x83, 0xef, 0x5b, 0x04, 0x44, 0x5c, 0xc4, 0x58, 0x1c, 0x8e, 0x86, 0xd8, 0x22, 0x4e, 0xdd, 0xd0, 0x9f, 0x11, 0x57},
	{0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	{0xed, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	{0xee, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	{0xcd, 0xeb, 0x7a, 0x7c, 0x3b, 0x41, 0xb8, 0xae, 0x16, 0x56, 0xe3, 0xfa, 0xf1, 0x9f, 0xc4, 0x6a, 0xda, 0x09, 0x8d, 0xeb, 0x9c, 0x32, 0xb1, 0xfd, 0x86, 0x62, 0x05, 0x16, 0x5f, 0x49, 0xb8, 0x80},
}

// DeriveSessionKeys expands a shared secret into the two symmetric key
// pairs the handshake assigns to the two traffic directions
// (§4.7 derive_session_keys).
func DeriveSessionKeys(sharedSecret []byte) (a, b SymmetricKey, err error) {
	kdf := hkdf.New(sha256.New, sharedSecret, nil, []byte("lodp-ntor-1:session-keys"))
	buf := make([]byte, 2*(MACKeyLen+BulkKeyLen))
	if _, err = io.ReadFull(kdf, buf); err != nil {
		return a, b, err
	}
	defer Wipe(buf)

	copy(a.MACKey[:], buf[0:MACKeyLen])
	copy(a.BulkKey[:], buf[MACKeyLen:MACKeyLen+BulkKeyLen])
	off := MACKeyLen + BulkKeyLen
	copy(b.MACKey[:], buf[off:off+MACKeyLen])
	copy(b.BulkKey[:], buf[off+MACKeyLen:off+MACKeyLen+BulkKeyLen])
	return a, b, nil
}
