package lodpbuf

import "testing"

func TestPoolAllocFreeScrubs(t *testing.T) {
	pool := NewPool()
	b := pool.Alloc()
	if err := b.SetLen(16); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	for i := range b.Plaintext {
		b.Plaintext[i] = byte(i + 1)
	}
	pool.Free(b)

	b2 := pool.Alloc()
	for i, v := range b2.storage {
		if v != 0 {
			t.Fatalf("byte %d not scrubbed on free: %d", i, v)
		}
	}
	pool.Free(b2)
}

func TestSetLenEnforcesMSS(t *testing.T) {
	pool := NewPool()
	b := pool.Alloc()
	defer pool.Free(b)

	if err := b.SetLen(MSS); err != nil {
		t.Fatalf("SetLen(MSS): %v", err)
	}
	if err := b.SetLen(MSS + 1); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestGrowRespectsCapacity(t *testing.T) {
	pool := NewPool()
	b := pool.Alloc()
	defer pool.Free(b)

	if err := b.SetLen(MSS - 4); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	if _, err := b.Grow(4); err != nil {
		t.Fatalf("Grow within capacity: %v", err)
	}
	if b.Len != MSS {
		t.Fatalf("Len = %d, want %d", b.Len, MSS)
	}
	if _, err := b.Grow(1); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge growing past MSS, got %v", err)
	}
}
