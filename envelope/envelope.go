// Package envelope implements the authenticated-encryption envelope
// (§4.2): encrypt_then_mac and mac_then_decrypt, plus the optional
// padding hook.
package envelope

import (
	"errors"

	"github.com/cvsouth/lodp-go/lodpbuf"
	"github.com/cvsouth/lodp-go/lodpcrypto"
	"github.com/cvsouth/lodp-go/lodperr"
	"github.com/cvsouth/lodp-go/wire"
)

// ErrInvalidMAC is returned by MACThenDecrypt on MAC mismatch
// (§7 INVALID_MAC).
var ErrInvalidMAC = lodperr.ErrInvalidMAC

// ErrShort is returned when a buffer is too small to contain a tag.
var ErrShort = errors.New("envelope: buffer shorter than the tag")

// PadFunc is the host-supplied padding hook (§6 pre_encrypt_fn): given
// the buffer's current length and the MSS, it returns the number of
// random padding bytes requested.
type PadFunc func(curLen, mss int) int

// EncryptThenMAC implements §4.2's Encrypt-then-MAC. buf.Plaintext
// (aliasing buf.Ciphertext, §3 Buffer) must already contain a fully
// formed header with arbitrary IV bytes and a body of buf.Len bytes;
// on return buf.Ciphertext holds the wire-ready packet and buf.Len
// reflects any padding that was appended.
func EncryptThenMAC(buf *lodpbuf.Buf, keys *lodpcrypto.SymmetricKey, pad PadFunc) error {
	if buf.Len < wire.TagLen {
		return ErrShort
	}

	if pad != nil {
		requested := pad(buf.Len, lodpbuf.MSS)
		if requested > 0 {
			if requested > lodpbuf.MSS-buf.Len {
				requested = lodpbuf.MSS - buf.Len
			}
			if requested > 0 {
				padding, err := buf.Grow(requested)
				if err != nil {
					return err
				}
				if err := lodpcrypto.RandBytes(padding); err != nil {
					return err
				}
			}
		}
	}

	iv := buf.Ciphertext[wire.MACLen:wire.TagLen]
	if err := lodpcrypto.RandBytes(iv); err != nil {
		return err
	}

	body := buf.Ciphertext[wire.TagLen:buf.Len]
	if err := lodpcrypto.Encrypt(&keys.BulkKey, iv, body, body); err != nil {
		return err
	}

	mac, err := lodpcrypto.MAC(&keys.MACKey, buf.Ciphertext[wire.MACLen:buf.Len], wire.MACLen)
	if err != nil {
		return err
	}
	copy(buf.Ciphertext[0:wire.MACLen], mac)
	return nil
}

// MACThenDecrypt implements §4.2's MAC-then-Decrypt. The MAC check
// happens before any decryption and uses a constant-time compare
// (§9 Constant-time discipline); on ErrInvalidMAC, buf.Plaintext is
// left untouched.
func MACThenDecrypt(buf *lodpbuf.Buf, keys *lodpcrypto.SymmetricKey) error {
	if buf.Len < wire.TagLen {
		return ErrShort
	}

	mac, err := lodpcrypto.MAC(&keys.MACKey, buf.Ciphertext[wire.MACLen:buf.Len], wire.MACLen)
	if err != nil {
		return err
	}
	if !lodpcrypto.ConstantTimeCompare(mac, buf.Ciphertext[0:wire.MACLen]) {
		return ErrInvalidMAC
	}

	iv := buf.Ciphertext[wire.MACLen:wire.TagLen]
	body := buf.Ciphertext[wire.TagLen:buf.Len]
	return lodpcrypto.Decrypt(&keys.BulkKey, iv, body, body)
}
