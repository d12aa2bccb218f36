// Package transport implements the ingress dispatcher and egress
// builders (§4.4, §4.11): the keys-then-decode-then-dispatch pipeline
// for incoming datagrams, and the constructors for outbound DATA,
// INIT, HANDSHAKE, and HEARTBEAT packets.
package transport

import (
	"net"

	"github.com/cvsouth/lodp-go/envelope"
	"github.com/cvsouth/lodp-go/lodpbuf"
	"github.com/cvsouth/lodp-go/lodpcrypto"
	"github.com/cvsouth/lodp-go/lodperr"
	"github.com/cvsouth/lodp-go/ntor"
	"github.com/cvsouth/lodp-go/session"
	"github.com/cvsouth/lodp-go/wire"
)

const (
	introKeysLen = lodpcrypto.MACKeyLen + lodpcrypto.BulkKeyLen
	pubKeyLen    = lodpcrypto.ECDHPublicKeyLen
)

// Listener binds an Endpoint to the buffer pool its builders and
// dispatcher share. It carries no other state and no locking (§5):
// the host must serialize all calls into one Listener.
type Listener struct {
	Endpoint *session.Endpoint
	Pool     *lodpbuf.Pool
}

// NewListener wraps ep with a fresh buffer pool.
func NewListener(ep *session.Endpoint) *Listener {
	return &Listener{Endpoint: ep, Pool: lodpbuf.NewPool()}
}

func splitAddr(addr net.Addr) (net.IP, uint16, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, 0, lodperr.ErrAFNotSupported
	}
	return udp.IP, uint16(udp.Port), nil
}

func (l *Listener) send(buf *lodpbuf.Buf, addr net.Addr) error {
	if l.Endpoint.Callbacks.SendTo == nil {
		return nil
	}
	return l.Endpoint.Callbacks.SendTo(l.Endpoint.Ctx, buf.Ciphertext[:buf.Len], addr)
}

func (l *Listener) padFunc() envelope.PadFunc {
	if l.Endpoint.Callbacks.PrePad == nil {
		return nil
	}
	return func(curLen, mss int) int {
		return l.Endpoint.Callbacks.PrePad(l.Endpoint.Ctx, curLen, mss)
	}
}

// OnIncoming is the ingress entry point (§4.4). buf.Len is assumed
// already validated by the caller to be >= wire.HeaderLen and <=
// lodpbuf.MSS. On return, every packet-level error has already been
// handled by dropping the packet; the returned error is informational
// for the host (e.g. for logging), never a wire signal.
func (l *Listener) OnIncoming(buf *lodpbuf.Buf, addr net.Addr) error {
	sess := l.Endpoint.Lookup(addr)

	usedSessionKeys := false
	if sess != nil {
		err := envelope.MACThenDecrypt(buf, &sess.RxKey)
		switch {
		case err == nil:
			usedSessionKeys = true
		case err != envelope.ErrInvalidMAC:
			return err
		}
	}
	if !usedSessionKeys {
		if !l.Endpoint.HasIntroKeys {
			return lodperr.ErrNotResponder
		}
		if err := envelope.MACThenDecrypt(buf, &l.Endpoint.IntroSymKeys); err != nil {
			return err
		}
	}

	hdr, err := wire.ParseHeader(buf.Plaintext[wire.TagLen:])
	if err != nil {
		return err
	}
	bodyCap := buf.Len - wire.TagLen
	if int(hdr.Length) < wire.TLVLen || int(hdr.Length) > bodyCap || hdr.Flags != 0 {
		return lodperr.ErrBadPacket
	}
	if wire.IsReserved(hdr.Type) {
		return lodperr.ErrBadPacket
	}

	switch {
	case sess != nil && usedSessionKeys:
		switch hdr.Type {
		case wire.TypeData:
			return l.handleData(sess, buf, hdr)
		case wire.TypeInitAck:
			return l.handleInitAck(sess, buf, hdr)
		case wire.TypeHandshakeAck:
			return l.handleHandshakeAck(sess, buf, hdr)
		case wire.TypeHeartbeat:
			return l.handleHeartbeat(sess, buf, hdr, addr)
		case wire.TypeHeartbeatAck:
			return l.handleHeartbeatAck(sess, buf, hdr)
		default:
			return lodperr.ErrBadPacket
		}

	case sess != nil && !usedSessionKeys:
		if hdr.Type != wire.TypeHandshake {
			return lodperr.ErrBadPacket
		}
		if sess.Role != session.RoleResponder {
			return lodperr.ErrNotResponder
		}
		return l.handleHandshake(sess, buf, hdr, addr)

	default: // sess == nil, endpoint keys used
		switch hdr.Type {
		case wire.TypeInit:
			return l.handleInit(buf, hdr, addr)
		case wire.TypeHandshake:
			return l.handleHandshake(nil, buf, hdr, addr)
		default:
			return lodperr.ErrBadPacket
		}
	}
}

// handleInit implements §4.5.
func (l *Listener) handleInit(buf *lodpbuf.Buf, hdr wire.Header, addr net.Addr) error {
	if int(hdr.Length) != wire.HdrInitLen {
		return lodperr.ErrBadPacket
	}
	body := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]
	peerKeys, err := wire.ParseSymmetricKey(body)
	if err != nil {
		return err
	}
	defer peerKeys.Wipe()

	ip, port, err := splitAddr(addr)
	if err != nil {
		return err
	}
	cookieBytes, err := l.Endpoint.Cookies.Generate(false, wire.TypeInit, ip, port, &peerKeys)
	if err != nil {
		return err
	}

	reply := l.Pool.Alloc()
	defer l.Pool.Free(reply)

	n, err := wire.InitAckBody(reply.Bytes()[wire.TagLen:], cookieBytes)
	if err != nil {
		return err
	}
	if err := reply.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(reply, &peerKeys, l.padFunc()); err != nil {
		return err
	}
	return l.send(reply, addr)
}

// handleHandshake implements §4.6. sess is nil when no session exists
// yet for addr; non-nil on the lost-ACK retransmission path.
func (l *Listener) handleHandshake(sess *session.Session, buf *lodpbuf.Buf, hdr wire.Header, addr net.Addr) error {
	if int(hdr.Length) != wire.HdrHandshakeLen+wire.CookieLen {
		return lodperr.ErrBadPacket
	}
	body := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]
	peerKeys, err := wire.ParseSymmetricKey(body)
	if err != nil {
		return err
	}
	defer peerKeys.Wipe()
	X, err := wire.ParsePublicKey(body[introKeysLen:])
	if err != nil {
		return err
	}
	cookieBytes := body[introKeysLen+pubKeyLen:]

	ip, port, err := splitAddr(addr)
	if err != nil {
		return err
	}
	if err := l.Endpoint.Cookies.Validate(ip, port, &peerKeys, cookieBytes); err != nil {
		return err
	}

	fireOnAccept := false
	switch {
	case sess == nil:
		y, err := lodpcrypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		result, err := ntor.Run(ntor.Params{
			Role:          ntor.Responder,
			OwnEphemeral:  y,
			PeerEphemeral: X,
			LongTerm:      l.Endpoint.IntroKeypair,
		})
		if err != nil {
			y.Wipe()
			return err
		}
		sess = session.NewSession(l.Endpoint, addr, session.RoleResponder, nil)
		sess.RemotePublicKey = X
		sess.SessionECDHKeypair = y
		sess.SessionSecret = result.SharedSecret
		sess.SessionSecretVerifier = result.Verifier
		sess.TxKey = result.TxKey
		sess.RxKey = result.RxKey
		sess.State = session.StateEstablished
		result.Wipe()
		l.Endpoint.Put(sess)
		fireOnAccept = true

	case sess.SeenPeerData:
		return lodperr.ErrBadPacket

	default:
		// Lost-ACK retransmission: rebuild the ACK from cached
		// material, do not re-run ntor or fire on_accept again.
	}

	Y := sess.SessionECDHKeypair.Public
	verifier := sess.SessionSecretVerifier

	reply := l.Pool.Alloc()
	defer l.Pool.Free(reply)
	n, err := wire.HandshakeAckBody(reply.Bytes()[wire.TagLen:], &Y, verifier[:])
	if err != nil {
		return err
	}
	if err := reply.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(reply, &peerKeys, l.padFunc()); err != nil {
		return err
	}
	if err := l.send(reply, addr); err != nil {
		return err
	}

	if fireOnAccept && l.Endpoint.Callbacks.OnAccept != nil {
		l.Endpoint.Callbacks.OnAccept(l.Endpoint.Ctx, sess, addr)
	}
	return nil
}

// handleInitAck implements §4.8.
func (l *Listener) handleInitAck(sess *session.Session, buf *lodpbuf.Buf, hdr wire.Header) error {
	if sess.Role != session.RoleInitiator || sess.State != session.StateInit {
		return lodperr.ErrBadPacket
	}
	cookieBytes := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]
	if len(cookieBytes) == 0 {
		return lodperr.ErrBadPacket
	}
	sess.Cookie = append([]byte(nil), cookieBytes...)
	sess.State = session.StateHandshake

	kp, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		sess.State = session.StateError
		l.onConnect(sess, lodperr.ErrNoBufs)
		return err
	}
	sess.SessionECDHKeypair = kp

	if err := l.SendHandshake(sess); err != nil {
		sess.State = session.StateError
		l.onConnect(sess, err)
		return err
	}
	return nil
}

// handleHandshakeAck implements §4.9.
func (l *Listener) handleHandshakeAck(sess *session.Session, buf *lodpbuf.Buf, hdr wire.Header) error {
	if sess.Role != session.RoleInitiator || sess.State != session.StateHandshake {
		return lodperr.ErrBadPacket
	}
	if int(hdr.Length) != wire.HdrHandshakeAckLen {
		return lodperr.ErrBadPacket
	}
	body := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]
	Y, err := wire.ParsePublicKey(body)
	if err != nil {
		return err
	}
	digest := body[pubKeyLen : pubKeyLen+lodpcrypto.MACDigestLen]

	result, err := ntor.Run(ntor.Params{
		Role:          ntor.Initiator,
		OwnEphemeral:  sess.SessionECDHKeypair,
		PeerEphemeral: Y,
		LongTerm:      lodpcrypto.KeyPair{Public: sess.RemotePublicKey},
	})
	if err != nil {
		sess.State = session.StateError
		sess.ScrubHandshakeMaterial()
		l.onConnect(sess, err)
		return err
	}

	if !lodpcrypto.ConstantTimeCompare(result.Verifier[:], digest) {
		result.Wipe()
		sess.State = session.StateError
		sess.ScrubHandshakeMaterial()
		l.onConnect(sess, lodperr.ErrBadHandshake)
		return lodperr.ErrBadHandshake
	}

	sess.TxKey = result.TxKey
	sess.RxKey = result.RxKey
	result.Wipe()
	sess.State = session.StateEstablished
	sess.ScrubHandshakeMaterial()
	l.onConnect(sess, nil)
	return nil
}

func (l *Listener) onConnect(sess *session.Session, err error) {
	if cb := l.Endpoint.Callbacks.OnConnect; cb != nil {
		cb(sess.Ctx, sess, err)
	}
}

// handleData implements the DATA half of §4.10.
func (l *Listener) handleData(sess *session.Session, buf *lodpbuf.Buf, hdr wire.Header) error {
	if sess.State != session.StateEstablished {
		return lodperr.ErrBadPacket
	}
	payload := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]

	if sess.Role == session.RoleResponder && !sess.SeenPeerData {
		sess.SeenPeerData = true
		sess.ScrubHandshakeMaterial()
	}

	if cb := l.Endpoint.Callbacks.OnRecv; cb != nil {
		return cb(sess.Ctx, sess, payload)
	}
	return nil
}

// handleHeartbeat implements the HEARTBEAT half of §4.10.
func (l *Listener) handleHeartbeat(sess *session.Session, buf *lodpbuf.Buf, hdr wire.Header, addr net.Addr) error {
	if sess.State != session.StateEstablished {
		return lodperr.ErrBadPacket
	}
	payload := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]

	reply := l.Pool.Alloc()
	defer l.Pool.Free(reply)
	n, err := wire.HeartbeatBody(reply.Bytes()[wire.TagLen:], wire.TypeHeartbeatAck, payload)
	if err != nil {
		return err
	}
	if err := reply.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(reply, &sess.TxKey, l.padFunc()); err != nil {
		return err
	}
	return l.send(reply, addr)
}

// handleHeartbeatAck implements the HEARTBEAT_ACK half of §4.10.
func (l *Listener) handleHeartbeatAck(sess *session.Session, buf *lodpbuf.Buf, hdr wire.Header) error {
	if sess.State != session.StateEstablished {
		return lodperr.ErrBadPacket
	}
	payload := buf.Plaintext[wire.TagLen+wire.TLVLen : wire.TagLen+int(hdr.Length)]
	if cb := l.Endpoint.Callbacks.OnHeartbeatAck; cb != nil {
		cb(sess.Ctx, sess, payload)
	}
	return nil
}

// Connect creates an initiator session for peerAddr and sends the
// opening INIT packet (scenario S1). remoteIdentity is the
// responder's long-term public key (B), and remoteIntroSymKeys is the
// responder's deterministic intro symmetric key pair — both known out
// of band, the way remote_public_key is described in §3.
//
// Before the real handshake completes, the session's tx_key/rx_key
// double as the transport keys for INIT/HANDSHAKE: tx_key holds the
// responder's intro keys (so the responder can decrypt our INIT and
// HANDSHAKE) and rx_key holds a freshly generated ephemeral pair (so
// we can decrypt INIT_ACK/HANDSHAKE_ACK, which the responder encrypts
// under whatever intro keys our packet carried). This mirrors the
// original's lodp_send_init_pkt/lodp_send_handshake_pkt, which both
// call encrypt_then_mac keyed on session->tx_key rather than the
// endpoint intro keys directly.
func (l *Listener) Connect(peerAddr net.Addr, remoteIdentity lodpcrypto.PublicKey, remoteIntroSymKeys lodpcrypto.SymmetricKey, ctx any) (*session.Session, error) {
	sess := session.NewSession(l.Endpoint, peerAddr, session.RoleInitiator, ctx)
	sess.RemotePublicKey = remoteIdentity
	sess.TxKey = remoteIntroSymKeys
	if err := lodpcrypto.RandBytes(sess.RxKey.MACKey[:]); err != nil {
		return nil, err
	}
	if err := lodpcrypto.RandBytes(sess.RxKey.BulkKey[:]); err != nil {
		return nil, err
	}
	l.Endpoint.Put(sess)

	if err := l.SendInit(sess); err != nil {
		sess.State = session.StateError
		l.Endpoint.Remove(peerAddr)
		return nil, err
	}
	return sess, nil
}

// SendData implements §4.11's send_data.
func (l *Listener) SendData(sess *session.Session, payload []byte) error {
	if sess.State != session.StateEstablished {
		return lodperr.ErrBadPacket
	}
	if wire.TagLen+wire.HdrDataLen+len(payload) > lodpbuf.MSS {
		return lodperr.ErrMsgSize
	}
	buf := l.Pool.Alloc()
	defer l.Pool.Free(buf)

	n, err := wire.DataBody(buf.Bytes()[wire.TagLen:], payload)
	if err != nil {
		return err
	}
	if err := buf.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(buf, &sess.TxKey, l.padFunc()); err != nil {
		return err
	}
	return l.send(buf, sess.PeerAddr)
}

// SendInit implements §4.11's send_init.
func (l *Listener) SendInit(sess *session.Session) error {
	if sess.Role != session.RoleInitiator || sess.State != session.StateInit {
		return lodperr.ErrBadPacket
	}
	buf := l.Pool.Alloc()
	defer l.Pool.Free(buf)

	n, err := wire.InitBody(buf.Bytes()[wire.TagLen:], &sess.RxKey)
	if err != nil {
		return err
	}
	if err := buf.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(buf, &sess.TxKey, l.padFunc()); err != nil {
		return err
	}
	return l.send(buf, sess.PeerAddr)
}

// SendHandshake implements §4.11's send_handshake.
func (l *Listener) SendHandshake(sess *session.Session) error {
	if sess.Role != session.RoleInitiator || sess.State != session.StateHandshake {
		return lodperr.ErrBadPacket
	}
	buf := l.Pool.Alloc()
	defer l.Pool.Free(buf)

	pub := sess.SessionECDHKeypair.Public
	n, err := wire.HandshakeBody(buf.Bytes()[wire.TagLen:], &sess.RxKey, &pub, sess.Cookie)
	if err != nil {
		return err
	}
	if err := buf.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(buf, &sess.TxKey, l.padFunc()); err != nil {
		return err
	}
	return l.send(buf, sess.PeerAddr)
}

// SendHeartbeat implements §4.11's send_heartbeat.
func (l *Listener) SendHeartbeat(sess *session.Session, payload []byte) error {
	if sess.State != session.StateEstablished {
		return lodperr.ErrBadPacket
	}
	if wire.TagLen+wire.TLVLen+len(payload) > lodpbuf.MSS {
		return lodperr.ErrMsgSize
	}
	buf := l.Pool.Alloc()
	defer l.Pool.Free(buf)

	n, err := wire.HeartbeatBody(buf.Bytes()[wire.TagLen:], wire.TypeHeartbeat, payload)
	if err != nil {
		return err
	}
	if err := buf.SetLen(wire.TagLen + n); err != nil {
		return err
	}
	if err := envelope.EncryptThenMAC(buf, &sess.TxKey, l.padFunc()); err != nil {
		return err
	}
	return l.send(buf, sess.PeerAddr)
}
