// Package wire implements the protocol's header layout, packet
// taxonomy, and per-type payload layouts (§4.1). It knows nothing
// about encryption or session state; it only packs and unpacks bytes.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/cvsouth/lodp-go/lodpcrypto"
)

// Packet types (§4.1).
const (
	TypeData         uint8 = 0
	TypeInit         uint8 = 1
	TypeInitAck      uint8 = 2
	TypeHandshake    uint8 = 3
	TypeHandshakeAck uint8 = 4
	TypeHeartbeat    uint8 = 5
	TypeHeartbeatAck uint8 = 6
	TypeRekey        uint8 = 7
	TypeRekeyAck     uint8 = 8
)

const (
	// MACLen is the on-wire MAC tag length.
	MACLen = lodpcrypto.MACDigestLen
	// IVLen is the on-wire IV length.
	IVLen = lodpcrypto.BulkIVLen
	// TagLen is MAC || IV, the unencrypted prefix of every packet (PKT_TAG_LEN).
	TagLen = MACLen + IVLen
	// TLVLen is the cleartext type/flags/length preamble (PKT_TLV_LEN).
	TLVLen = 4
	// HeaderLen is the full on-wire header: tag + TLV (PKT_HDR_LEN).
	HeaderLen = TagLen + TLVLen

	keyPairLen = lodpcrypto.MACKeyLen + lodpcrypto.BulkKeyLen
	pubKeyLen  = lodpcrypto.ECDHPublicKeyLen

	// HdrDataLen is the cleartext-body length of a DATA packet with no payload.
	HdrDataLen = TLVLen
	// HdrInitLen is the cleartext-body length of an INIT packet (PKT_HDR_INIT_LEN).
	HdrInitLen = TLVLen + keyPairLen
	// HdrInitAckLen is the cleartext-body length of an INIT_ACK with no cookie.
	HdrInitAckLen = TLVLen
	// HdrHandshakeLen is the cleartext-body length of a HANDSHAKE with no cookie (PKT_HDR_HANDSHAKE_LEN).
	HdrHandshakeLen = TLVLen + keyPairLen + pubKeyLen
	// HdrHandshakeAckLen is the cleartext-body length of a HANDSHAKE_ACK (PKT_HDR_HANDSHAKE_ACK_LEN).
	HdrHandshakeAckLen = TLVLen + pubKeyLen + lodpcrypto.MACDigestLen
	// HdrHeartbeatLen is the cleartext-body length of a HEARTBEAT with no payload.
	HdrHeartbeatLen = TLVLen
	// HdrHeartbeatAckLen is the cleartext-body length of a HEARTBEAT_ACK with no payload.
	HdrHeartbeatAckLen = TLVLen

	// CookieLen is the size of an opaque cookie as produced by this
	// implementation's cookie subsystem (COOKIE_LEN = MAC_DIGEST_LEN).
	CookieLen = lodpcrypto.MACDigestLen
)

// ErrShortBuffer is returned when a buffer is too small to hold the
// structure being parsed.
var ErrShortBuffer = errors.New("wire: buffer too short")

// Header is the cleartext TLV preamble that follows the MAC/IV tag.
type Header struct {
	Type   uint8
	Flags  uint8
	Length uint16 // covers TLV preamble + type-specific payload, NOT the tag
}

// PutHeader writes h into the first TLVLen bytes of dst.
func PutHeader(dst []byte, h Header) error {
	if len(dst) < TLVLen {
		return ErrShortBuffer
	}
	dst[0] = h.Type
	dst[1] = h.Flags
	binary.BigEndian.PutUint16(dst[2:4], h.Length)
	return nil
}

// ParseHeader reads the TLV preamble from the front of src.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < TLVLen {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Type:   src[0],
		Flags:  src[1],
		Length: binary.BigEndian.Uint16(src[2:4]),
	}, nil
}

// IsReserved reports whether t is a type code reserved for future use
// (REKEY/REKEY_ACK) and therefore always a bad packet in this
// implementation (§4.1, spec Open Question — REKEY).
func IsReserved(t uint8) bool {
	return t == TypeRekey || t == TypeRekeyAck
}

// PutSymmetricKey writes a MAC key followed by a bulk key, the layout
// shared by INIT and HANDSHAKE bodies.
func PutSymmetricKey(dst []byte, k *lodpcrypto.SymmetricKey) error {
	if len(dst) < keyPairLen {
		return ErrShortBuffer
	}
	copy(dst[0:lodpcrypto.MACKeyLen], k.MACKey[:])
	copy(dst[lodpcrypto.MACKeyLen:keyPairLen], k.BulkKey[:])
	return nil
}

// ParseSymmetricKey is the inverse of PutSymmetricKey.
func ParseSymmetricKey(src []byte) (lodpcrypto.SymmetricKey, error) {
	var k lodpcrypto.SymmetricKey
	if len(src) < keyPairLen {
		return k, ErrShortBuffer
	}
	copy(k.MACKey[:], src[0:lodpcrypto.MACKeyLen])
	copy(k.BulkKey[:], src[lodpcrypto.MACKeyLen:keyPairLen])
	return k, nil
}

// PutPublicKey writes an ECDH public key.
func PutPublicKey(dst []byte, pub *lodpcrypto.PublicKey) error {
	if len(dst) < pubKeyLen {
		return ErrShortBuffer
	}
	copy(dst[:pubKeyLen], pub[:])
	return nil
}

// ParsePublicKey is the inverse of PutPublicKey.
func ParsePublicKey(src []byte) (lodpcrypto.PublicKey, error) {
	var pub lodpcrypto.PublicKey
	if len(src) < pubKeyLen {
		return pub, ErrShortBuffer
	}
	copy(pub[:], src[:pubKeyLen])
	return pub, nil
}

// DataBody builds the cleartext body of a DATA packet into dst,
// returning the total body length. dst must have room for
// HdrDataLen+len(payload) bytes.
func DataBody(dst []byte, payload []byte) (int, error) {
	n := HdrDataLen + len(payload)
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if err := PutHeader(dst, Header{Type: TypeData, Length: uint16(n)}); err != nil {
		return 0, err
	}
	copy(dst[HdrDataLen:n], payload)
	return n, nil
}

// InitBody builds the cleartext body of an INIT packet.
func InitBody(dst []byte, introKeys *lodpcrypto.SymmetricKey) (int, error) {
	n := HdrInitLen
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if err := PutHeader(dst, Header{Type: TypeInit, Length: uint16(n)}); err != nil {
		return 0, err
	}
	if err := PutSymmetricKey(dst[TLVLen:], introKeys); err != nil {
		return 0, err
	}
	return n, nil
}

// InitAckBody builds the cleartext body of an INIT_ACK packet.
func InitAckBody(dst []byte, cookie []byte) (int, error) {
	n := HdrInitAckLen + len(cookie)
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if err := PutHeader(dst, Header{Type: TypeInitAck, Length: uint16(n)}); err != nil {
		return 0, err
	}
	copy(dst[HdrInitAckLen:n], cookie)
	return n, nil
}

// HandshakeBody builds the cleartext body of a HANDSHAKE packet.
func HandshakeBody(dst []byte, introKeys *lodpcrypto.SymmetricKey, pub *lodpcrypto.PublicKey, cookie []byte) (int, error) {
	n := HdrHandshakeLen + len(cookie)
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if err := PutHeader(dst, Header{Type: TypeHandshake, Length: uint16(n)}); err != nil {
		return 0, err
	}
	off := TLVLen
	if err := PutSymmetricKey(dst[off:], introKeys); err != nil {
		return 0, err
	}
	off += keyPairLen
	if err := PutPublicKey(dst[off:], pub); err != nil {
		return 0, err
	}
	off += pubKeyLen
	copy(dst[off:n], cookie)
	return n, nil
}

// HandshakeAckBody builds the cleartext body of a HANDSHAKE_ACK packet.
func HandshakeAckBody(dst []byte, pub *lodpcrypto.PublicKey, verifier []byte) (int, error) {
	n := HdrHandshakeAckLen
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if len(verifier) != lodpcrypto.MACDigestLen {
		return 0, errors.New("wire: verifier must be MACDigestLen bytes")
	}
	if err := PutHeader(dst, Header{Type: TypeHandshakeAck, Length: uint16(n)}); err != nil {
		return 0, err
	}
	off := TLVLen
	if err := PutPublicKey(dst[off:], pub); err != nil {
		return 0, err
	}
	off += pubKeyLen
	copy(dst[off:n], verifier)
	return n, nil
}

// HeartbeatBody builds the cleartext body of a HEARTBEAT/HEARTBEAT_ACK
// packet (the two share a layout; typ distinguishes them).
func HeartbeatBody(dst []byte, typ uint8, payload []byte) (int, error) {
	n := TLVLen + len(payload)
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	if err := PutHeader(dst, Header{Type: typ, Length: uint16(n)}); err != nil {
		return 0, err
	}
	copy(dst[TLVLen:n], payload)
	return n, nil
}
