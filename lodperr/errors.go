// Package lodperr collects the flat error taxonomy of §7: every
// packet-level and session-level failure in this module resolves to
// one of these sentinels, compared with errors.Is the way the rest of
// the Go ecosystem does it — no custom error-code framework.
package lodperr

import "errors"

var (
	// ErrInvalidMAC is an authentication tag mismatch.
	ErrInvalidMAC = errors.New("lodp: invalid MAC")
	// ErrBadPacket is a structural violation: size, reserved flag,
	// wrong type for the current state/role, wrong length for the
	// packet type.
	ErrBadPacket = errors.New("lodp: bad packet")
	// ErrInvalidCookie is a cookie verification failure under both the
	// current and (if in grace) previous cookie key.
	ErrInvalidCookie = errors.New("lodp: invalid cookie")
	// ErrBadHandshake is any ntor failure: public-key validation,
	// verifier mismatch, or primitive failure.
	ErrBadHandshake = errors.New("lodp: bad handshake")
	// ErrNotResponder is returned when an endpoint without intro keys
	// receives a packet it cannot decrypt.
	ErrNotResponder = errors.New("lodp: not a responder")
	// ErrNoBufs is buffer/memory exhaustion.
	ErrNoBufs = errors.New("lodp: no buffers available")
	// ErrMsgSize is an application payload that would exceed the MSS.
	ErrMsgSize = errors.New("lodp: message too large")
	// ErrAFNotSupported is a peer address family that is neither IPv4
	// nor IPv6.
	ErrAFNotSupported = errors.New("lodp: unsupported address family")
)
