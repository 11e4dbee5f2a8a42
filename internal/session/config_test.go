package session

import "testing"

func TestNormalizedSystemicThreshold(t *testing.T) {
	def := DefaultConfig().MaxSystemicFailures
	if got := (Config{}).normalized().MaxSystemicFailures; got != def {
		t.Fatalf("zero value normalized to %d, want default %d", got, def)
	}
	if got := (Config{MaxSystemicFailures: 5}).normalized().MaxSystemicFailures; got != 5 {
		t.Fatalf("explicit threshold normalized to %d", got)
	}
	if got := (Config{MaxSystemicFailures: -1}).normalized().MaxSystemicFailures; got != -1 {
		t.Fatalf("negative threshold normalized to %d, want it kept as disabled", got)
	}
}
