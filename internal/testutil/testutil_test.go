package testutil

import "testing"

func TestMustHex(t *testing.T) {
	t.Parallel()

	got := MustHex(t, "42 4d 00 1c")
	want := []byte{0x42, 0x4D, 0x00, 0x1C}
	if string(got) != string(want) {
		t.Errorf("MustHex() = %X, want %X", got, want)
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	got := Concat([]byte{1}, nil, []byte{2, 3})
	if string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("Concat() = %v", got)
	}
	if Concat() != nil {
		t.Error("Concat() of nothing should be nil")
	}
}

func TestDiscardLogger(t *testing.T) {
	t.Parallel()

	l := DiscardLogger()
	if l == nil {
		t.Fatal("DiscardLogger() returned nil")
	}
	l.Info("dropped", "key", "value")
}
