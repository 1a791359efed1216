package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_SortsByCreation(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if _, err := Parse(id); err != nil {
			t.Fatalf("Parse(%q): %v", id, err)
		}
		if id <= prev {
			t.Fatalf("ids out of order: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("job_", Default)()
	if !strings.HasPrefix(id, "job_") {
		t.Fatalf("id %q lacks prefix", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "job_")); err != nil {
		t.Fatal(err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}
