package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("hist_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "hist_") {
		t.Errorf("missing prefix: %s", id)
	}
	if len(id) <= len("hist_") {
		t.Errorf("no suffix generated: %s", id)
	}
}
