package secret

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher("unit-test-pepper", TestParams())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func TestNewHasherRequiresPepper(t *testing.T) {
	if _, err := NewHasher("", TestParams()); err == nil {
		t.Fatal("NewHasher with empty pepper should fail")
	}
}

func TestNewHasherZeroParamsFallBack(t *testing.T) {
	h, err := NewHasher("pepper", Params{})
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	def := DefaultParams()
	if h.params.Time != def.Time || h.params.Memory != def.Memory || h.params.Threads != def.Threads {
		t.Errorf("params = %+v, want defaults %+v", h.params, def)
	}
}

func TestDigestDeterministic(t *testing.T) {
	h := testHasher(t)

	d1 := h.Digest("gwk_abc123")
	d2 := h.Digest("gwk_abc123")
	if d1 != d2 {
		t.Errorf("same secret produced different digests: %s vs %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(d1))
	}
	if d1 == "gwk_abc123" {
		t.Error("digest must not equal the raw secret")
	}
}

func TestDigestDependsOnPepper(t *testing.T) {
	h1, err := NewHasher("pepper-one", TestParams())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	h2, err := NewHasher("pepper-two", TestParams())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if h1.Digest("gwk_abc123") == h2.Digest("gwk_abc123") {
		t.Error("different peppers produced the same digest")
	}
}

func TestVerify(t *testing.T) {
	h := testHasher(t)
	stored := h.Digest("gwk_correct")

	if !h.Verify("gwk_correct", stored) {
		t.Error("Verify(correct secret) = false, want true")
	}
	if h.Verify("gwk_wrong", stored) {
		t.Error("Verify(wrong secret) = true, want false")
	}
	if h.Verify("gwk_correct", stored[:len(stored)-1]+"0") {
		t.Error("Verify against altered digest = true, want false")
	}
}

func TestNewKeyShape(t *testing.T) {
	raw, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey error: %v", err)
	}

	if !strings.HasPrefix(raw, KeyMarker) {
		t.Errorf("key %q missing marker %q", raw, KeyMarker)
	}
	if len(raw) != len(KeyMarker)+64 {
		t.Errorf("key length = %d, want %d", len(raw), len(KeyMarker)+64)
	}

	raw2, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey error: %v", err)
	}
	if raw == raw2 {
		t.Error("two generated keys are identical")
	}
}

func TestDisplayPrefix(t *testing.T) {
	raw, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey error: %v", err)
	}

	prefix := DisplayPrefix(raw)
	if len(prefix) != displayPrefixLen {
		t.Errorf("prefix length = %d, want %d", len(prefix), displayPrefixLen)
	}
	if !strings.HasPrefix(raw, prefix) {
		t.Errorf("raw key does not start with prefix %q", prefix)
	}
	if DisplayPrefix("gwk_ab") != "gwk_ab" {
		t.Error("short input should be returned unchanged")
	}
}

func TestLooksLikeKey(t *testing.T) {
	raw, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey error: %v", err)
	}

	tests := []struct {
		in   string
		want bool
	}{
		{raw, true},
		{"gwk_0123456789abcdef", true},
		{"gwk_", false},
		{"sk_live_abc", false},
		{"", false},
		{"Bearer gwk_abc", false},
	}
	for _, tt := range tests {
		if got := LooksLikeKey(tt.in); got != tt.want {
			t.Errorf("LooksLikeKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
