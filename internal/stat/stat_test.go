package stat

import "testing"

func TestBytesRoundtrip(t *testing.T) {
	var st Stat_t
	st.SetIno(42)
	st.SetMode(IFREG | 0o644)
	st.SetSize(1024)

	b := st.Bytes()
	if len(b) != Size {
		t.Fatalf("len = %d, want %d", len(b), Size)
	}
	if st.Ino() != 42 || st.Mode() != IFREG|0o644 || st.Size() != 1024 {
		t.Fatal("accessors do not reflect set values")
	}
}
