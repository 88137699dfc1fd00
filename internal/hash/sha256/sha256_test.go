package sha256

import (
	"testing"

	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

var _ tracker.Hasher = (*Hasher)(nil)

// TestHasherHashDeterministic ensures identical pages map to one digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	other, err := h.Hash([]byte("<html>Character Information</html>"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if other == got {
		t.Fatal("expected different pages to hash differently")
	}
}
