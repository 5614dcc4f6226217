package accnt

import (
	"testing"
	"time"
)

func TestAddAndSnapshot(t *testing.T) {
	var a Accnt
	a.AddUser(5 * time.Millisecond)
	a.AddSys(2 * time.Millisecond)
	u, s := a.Snapshot()
	if u != 5*time.Millisecond || s != 2*time.Millisecond {
		t.Fatalf("got user=%v sys=%v", u, s)
	}
}

func TestAddMerge(t *testing.T) {
	var parent, child Accnt
	child.AddUser(3 * time.Millisecond)
	child.AddSys(1 * time.Millisecond)
	parent.AddUser(1 * time.Millisecond)

	parent.Add(&child)
	u, s := parent.Snapshot()
	if u != 4*time.Millisecond || s != 1*time.Millisecond {
		t.Fatalf("got user=%v sys=%v", u, s)
	}
}
