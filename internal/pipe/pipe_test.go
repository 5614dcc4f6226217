package pipe

import (
	"testing"

	"github.com/biscuit-go/kernel/internal/kerr"
)

func TestWriteThenReadRoundtrips(t *testing.T) {
	r, w := New()
	n, err := w.Write(0, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 5)
	n, err = r.Read(0, buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read: n=%d err=%v buf=%q", n, err, buf)
	}
}

func TestReadOnEmptyPipeReturnsZeroNotError(t *testing.T) {
	r, _ := New()
	buf := make([]byte, 4)
	n, err := r.Read(0, buf)
	if err != nil || n != 0 {
		t.Fatalf("Read: n=%d err=%v, want 0, nil", n, err)
	}
}

func TestWriteAfterReadersGoneReturnsEPIPE(t *testing.T) {
	r, w := New()
	r.(*ReadEnd).Close()
	_, err := w.Write(0, []byte("x"))
	if err == nil || err.Errno != kerr.EPIPE {
		t.Fatalf("expected EPIPE, got %v", err)
	}
}

func TestWritersGoneReportedAsReadable(t *testing.T) {
	r, w := New()
	w.(*WriteEnd).Close()
	if !r.Poll().Readable {
		t.Fatalf("expected an EOF'd pipe to poll readable")
	}
}

func TestWaitQueueSharedBetweenEnds(t *testing.T) {
	r, w := New()
	if WaitQueue(r) != WaitQueue(w) {
		t.Fatalf("expected both ends to report the same underlying wait queue")
	}
}

func TestReadEndWriteReturnsEBADF(t *testing.T) {
	r, _ := New()
	_, err := r.Write(0, []byte("x"))
	if err == nil || err.Errno != kerr.EBADF {
		t.Fatalf("expected EBADF, got %v", err)
	}
}
