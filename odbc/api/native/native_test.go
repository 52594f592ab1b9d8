package native

import "testing"

func TestWideRoundTrip(t *testing.T) {
	for _, s := range []string{"", "DSN=local;UID=sa", "日本語", "emoji \U0001F600"} {
		w := encodeWide(s)
		if w[len(w)-1] != 0 {
			t.Fatalf("%q: missing terminator", s)
		}
		if got := decodeWide(w); got != s {
			t.Errorf("expected %q, got %q", s, got)
		}
	}
}

func TestOpenMissingLibrary(t *testing.T) {
	if _, err := Open("libodbc-does-not-exist.so.99"); err == nil {
		t.Fatal("expected error loading a missing library")
	}
}
