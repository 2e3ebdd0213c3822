package testfixtures

import "testing"

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("merged")

	first := gen.Next()
	second := gen.Next()

	if first != "merged-001" || second != "merged-002" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
}

func TestIDGeneratorReset(t *testing.T) {
	gen := NewIDGenerator("")
	_ = gen.Next()
	gen.Reset()

	if next := gen.NextFunc()(); next != "room-001" {
		t.Fatalf("expected room-001 after reset, got %q", next)
	}
}
