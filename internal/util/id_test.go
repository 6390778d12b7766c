package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("pg")
	if !strings.HasPrefix(id, "pg_") || len(id) != len("pg_")+32 {
		t.Fatalf("NewID(pg) = %q", id)
	}
	if bare := NewID(""); strings.Contains(bare, "_") || len(bare) != 32 {
		t.Fatalf("NewID(\"\") = %q", bare)
	}
	if NewID("pg") == NewID("pg") {
		t.Fatal("expected unique ids")
	}
}
