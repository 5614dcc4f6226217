package ustr

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	got := Split(Ustr("/usr//local/bin/"))
	want := []Ustr{Ustr("usr"), Ustr("local"), Ustr("bin")}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range got {
		if !got[i].Eq(want[i]) {
			t.Fatalf("component %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestIsAbsolute(t *testing.T) {
	if !Ustr("/a").IsAbsolute() {
		t.Fatal("expected absolute")
	}
	if Ustr("a").IsAbsolute() {
		t.Fatal("expected relative")
	}
	if Ustr("").IsAbsolute() {
		t.Fatal("empty path is not absolute")
	}
}

func TestExtend(t *testing.T) {
	got := Ustr("/usr").Extend(Ustr("bin"))
	if got.String() != "/usr/bin" {
		t.Fatalf("got %q", got)
	}
}

func TestFromNulTerminated(t *testing.T) {
	buf := []byte("hello\x00garbage")
	got := FromNulTerminated(buf)
	if !reflect.DeepEqual([]byte(got), []byte("hello")) {
		t.Fatalf("got %q", got)
	}
}

func TestDotDot(t *testing.T) {
	if !Ustr("..").IsDotDot() {
		t.Fatal("expected dotdot")
	}
	if !Ustr(".").IsDot() {
		t.Fatal("expected dot")
	}
}
