// Command lodp-echo is a minimal two-sided demo of the protocol: run
// one instance as a responder to print the out-of-band identity a
// peer needs, then run a second instance as an initiator pointed at
// that identity to exchange line-buffered messages over UDP.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cvsouth/lodp-go/cookie"
	"github.com/cvsouth/lodp-go/lodpbuf"
	"github.com/cvsouth/lodp-go/lodpcrypto"
	"github.com/cvsouth/lodp-go/session"
	"github.com/cvsouth/lodp-go/transport"
	"github.com/cvsouth/lodp-go/wire"
)

func main() {
	listen := flag.String("listen", "", "run as responder, bound to host:port")
	connect := flag.String("connect", "", "run as initiator, dialing host:port")
	peerInfo := flag.String("peer", "", "responder identity printed at startup, \"pubkey:mac:bulk\" hex")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch {
	case *listen != "":
		runResponder(*listen, logger)
	case *connect != "" && *peerInfo != "":
		runInitiator(*connect, *peerInfo, logger)
	default:
		fmt.Fprintln(os.Stderr, "usage: lodp-echo -listen host:port")
		fmt.Fprintln(os.Stderr, "       lodp-echo -connect host:port -peer pubkey:mac:bulk")
		os.Exit(2)
	}
}

func runResponder(addr string, logger *slog.Logger) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	longTerm, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate identity: %v\n", err)
		os.Exit(1)
	}
	var introSym lodpcrypto.SymmetricKey
	if err := lodpcrypto.RandBytes(introSym.MACKey[:]); err != nil {
		fmt.Fprintf(os.Stderr, "generate intro keys: %v\n", err)
		os.Exit(1)
	}
	if err := lodpcrypto.RandBytes(introSym.BulkKey[:]); err != nil {
		fmt.Fprintf(os.Stderr, "generate intro keys: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("listening on %s\n", addr)
	fmt.Printf("peer info: %s:%s:%s\n",
		hex.EncodeToString(longTerm.Public[:]),
		hex.EncodeToString(introSym.MACKey[:]),
		hex.EncodeToString(introSym.BulkKey[:]))

	ep, err := session.NewEndpoint(nil, session.Callbacks{
		SendTo: func(ctx any, b []byte, peer net.Addr) error {
			_, err := conn.WriteTo(b, peer)
			return err
		},
		OnAccept: func(ctx any, s *session.Session, peer net.Addr) {
			fmt.Printf("accepted connection from %s\n", peer)
		},
		OnRecv: func(ctx any, s *session.Session, payload []byte) error {
			fmt.Printf("[%s] %s\n", s.PeerAddr, payload)
			return nil
		},
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "new endpoint: %v\n", err)
		os.Exit(1)
	}
	ep.InstallIntroKeys(longTerm, introSym)
	listener := transport.NewListener(ep)

	serve(conn, listener, logger)
}

func runInitiator(addr, peerInfo string, logger *slog.Logger) {
	pub, macKey, bulkKey, err := parsePeerInfo(peerInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer info: %v\n", err)
		os.Exit(1)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	peerAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve %s: %v\n", addr, err)
		os.Exit(1)
	}

	connected := make(chan error, 1)
	ep, err := session.NewEndpoint(nil, session.Callbacks{
		SendTo: func(ctx any, b []byte, peer net.Addr) error {
			_, err := conn.WriteTo(b, peer)
			return err
		},
		OnConnect: func(ctx any, s *session.Session, err error) {
			connected <- err
		},
		OnRecv: func(ctx any, s *session.Session, payload []byte) error {
			fmt.Printf("[%s] %s\n", s.PeerAddr, payload)
			return nil
		},
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "new endpoint: %v\n", err)
		os.Exit(1)
	}
	listener := transport.NewListener(ep)

	var introSym lodpcrypto.SymmetricKey
	introSym.MACKey = macKey
	introSym.BulkKey = bulkKey
	sess, err := listener.Connect(peerAddr, pub, introSym, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	go serve(conn, listener, logger)

	if err := <-connected; err != nil {
		fmt.Fprintf(os.Stderr, "handshake failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("connected, type to send")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := listener.SendData(sess, []byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
		}
	}
}

func parsePeerInfo(s string) (pub lodpcrypto.PublicKey, mac lodpcrypto.MACKey, bulk lodpcrypto.BulkKey, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return pub, mac, bulk, fmt.Errorf("expected pubkey:mac:bulk, got %d fields", len(parts))
	}
	for _, field := range []struct {
		dst []byte
		src string
	}{{pub[:], parts[0]}, {mac[:], parts[1]}, {bulk[:], parts[2]}} {
		decoded, err := hex.DecodeString(field.src)
		if err != nil {
			return pub, mac, bulk, err
		}
		if len(decoded) != len(field.dst) {
			return pub, mac, bulk, fmt.Errorf("field has %d bytes, want %d", len(decoded), len(field.dst))
		}
		copy(field.dst, decoded)
	}
	return pub, mac, bulk, nil
}

// serve runs the read loop that feeds inbound datagrams into listener
// until the process receives SIGINT/SIGTERM or the socket closes. A
// background ticker drives the endpoint's cookie rotation on its own
// schedule, independent of whether any packet happens to arrive, so
// the keyring's nominal rotation schedule stays live even through a
// quiet connection.
func serve(conn net.PacketConn, listener *transport.Listener, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		ticker := time.NewTicker(cookie.RotateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := listener.Endpoint.RotateCookies(); err != nil {
					logger.Warn("cookie rotation failed", "error", err)
				}
			}
		}
	}()

	pool := listener.Pool
	raw := make([]byte, lodpbuf.MSS)
	for {
		n, peer, err := conn.ReadFrom(raw)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("read failed", "error", err)
			return
		}
		if n < wire.HeaderLen {
			continue
		}
		buf := pool.Alloc()
		if err := buf.SetLen(n); err != nil {
			pool.Free(buf)
			continue
		}
		copy(buf.Ciphertext[:n], raw[:n])
		if err := listener.OnIncoming(buf, peer); err != nil {
			logger.Warn("dropped datagram", "peer", peer, "error", err)
		}
		pool.Free(buf)
	}
}
