package wire

import (
	"bytes"
	"testing"

	"github.com/cvsouth/lodp-go/lodpcrypto"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, TLVLen)
	want := Header{Type: TypeHandshake, Flags: 0, Length: 123}
	if err := PutHeader(buf, want); err != nil {
		t.Fatalf("PutHeader: %v", err)
	}
	got, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIsReserved(t *testing.T) {
	if !IsReserved(TypeRekey) || !IsReserved(TypeRekeyAck) {
		t.Fatal("REKEY/REKEY_ACK must be reserved")
	}
	if IsReserved(TypeData) || IsReserved(TypeHeartbeatAck) {
		t.Fatal("non-rekey types must not be reserved")
	}
}

func TestDataBodyRoundTrip(t *testing.T) {
	payload := []byte("0123456789ABCDEF")
	buf := make([]byte, HdrDataLen+len(payload))
	n, err := DataBody(buf, payload)
	if err != nil {
		t.Fatalf("DataBody: %v", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Type != TypeData || int(h.Length) != n {
		t.Fatalf("unexpected header %+v", h)
	}
	if !bytes.Equal(buf[HdrDataLen:n], payload) {
		t.Fatal("payload mismatch")
	}
}

func TestInitBodyRoundTrip(t *testing.T) {
	var keys lodpcrypto.SymmetricKey
	if err := lodpcrypto.RandBytes(keys.MACKey[:]); err != nil {
		t.Fatal(err)
	}
	if err := lodpcrypto.RandBytes(keys.BulkKey[:]); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, HdrInitLen)
	n, err := InitBody(buf, &keys)
	if err != nil {
		t.Fatalf("InitBody: %v", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != TypeInit || int(h.Length) != HdrInitLen || n != HdrInitLen {
		t.Fatalf("unexpected header %+v / n=%d", h, n)
	}
	got, err := ParseSymmetricKey(buf[TLVLen:])
	if err != nil {
		t.Fatal(err)
	}
	if got != keys {
		t.Fatal("symmetric key round trip mismatch")
	}
}

func TestHandshakeBodyRoundTrip(t *testing.T) {
	var keys lodpcrypto.SymmetricKey
	lodpcrypto.RandBytes(keys.MACKey[:])
	lodpcrypto.RandBytes(keys.BulkKey[:])
	kp, err := lodpcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	cookie := bytes.Repeat([]byte{0xAB}, CookieLen)

	buf := make([]byte, HdrHandshakeLen+len(cookie))
	n, err := HandshakeBody(buf, &keys, &kp.Public, cookie)
	if err != nil {
		t.Fatalf("HandshakeBody: %v", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if int(h.Length) != n {
		t.Fatalf("length mismatch: %d != %d", h.Length, n)
	}

	off := TLVLen
	gotKeys, err := ParseSymmetricKey(buf[off:])
	if err != nil {
		t.Fatal(err)
	}
	if gotKeys != keys {
		t.Fatal("intro keys mismatch")
	}
	off += 64 // MACKeyLen + BulkKeyLen
	gotPub, err := ParsePublicKey(buf[off:])
	if err != nil {
		t.Fatal(err)
	}
	if gotPub != kp.Public {
		t.Fatal("public key mismatch")
	}
	off += 32
	if !bytes.Equal(buf[off:n], cookie) {
		t.Fatal("cookie echo mismatch")
	}
}

func FuzzParseHeader(f *testing.F) {
	f.Add([]byte{0, 0, 0, 4})
	f.Add([]byte{7, 0, 0, 200})
	f.Add([]byte{})
	f.Add([]byte{1, 2})
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic regardless of input.
		ParseHeader(data)
	})
}
