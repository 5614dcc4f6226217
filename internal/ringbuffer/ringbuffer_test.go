package ringbuffer

import (
	"bytes"
	"testing"
)

func TestPushPopRoundtrip(t *testing.T) {
	rb := New(8)
	n := rb.PushSlice([]byte("abcd"))
	if n != 4 {
		t.Fatalf("pushed %d, want 4", n)
	}
	out := make([]byte, 4)
	got := rb.PopSlice(out)
	if got != 4 || !bytes.Equal(out, []byte("abcd")) {
		t.Fatalf("got %q (%d)", out[:got], got)
	}
	if !rb.IsEmpty() {
		t.Fatal("expected empty after full drain")
	}
}

func TestPushSliceClipsToFreeSpace(t *testing.T) {
	rb := New(4)
	n := rb.PushSlice([]byte("abcdefgh"))
	if n != 4 {
		t.Fatalf("pushed %d, want 4 (clipped)", n)
	}
	if !rb.IsFull() {
		t.Fatal("expected full")
	}
}

func TestWraparound(t *testing.T) {
	rb := New(4)
	rb.PushSlice([]byte("ab"))
	out := make([]byte, 1)
	rb.PopSlice(out) // drains 'a', tail advances past capacity boundary eventually
	rb.PushSlice([]byte("cde"))
	all := make([]byte, 8)
	got := rb.PopSlice(all)
	if !bytes.Equal(all[:got], []byte("bcde")) {
		t.Fatalf("got %q", all[:got])
	}
}

func TestDropLast(t *testing.T) {
	rb := New(8)
	rb.PushSlice([]byte("ab"))
	if !rb.DropLast() {
		t.Fatal("expected drop to succeed")
	}
	out := make([]byte, 4)
	got := rb.PopSlice(out)
	if got != 1 || out[0] != 'a' {
		t.Fatalf("got %q (%d)", out[:got], got)
	}
}

func TestDropLastOnEmpty(t *testing.T) {
	rb := New(4)
	if rb.DropLast() {
		t.Fatal("expected drop to fail on empty buffer")
	}
}
