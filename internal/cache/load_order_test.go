package cache

import "testing"

func TestLoadOrderRadiusZero(t *testing.T) {
	center := cc(7, -3)
	got := GenerateLoadOrder(center, 0)
	if len(got) != 1 || got[0] != center {
		t.Fatalf("GenerateLoadOrder(r=0) = %v", got)
	}
}

func TestLoadOrderSortedAndComplete(t *testing.T) {
	center := cc(-4, 9)
	for r := 1; r <= 6; r++ {
		got := GenerateLoadOrder(center, r)
		if want := (2*r + 1) * (2*r + 1); len(got) != want {
			t.Fatalf("r=%d: %d entries, want %d", r, len(got), want)
		}
		if got[0] != center {
			t.Fatalf("r=%d: first entry %v, want center", r, got[0])
		}
		seen := map[string]bool{}
		for i, p := range got {
			if seen[p.Key()] {
				t.Fatalf("r=%d: duplicate %v", r, p)
			}
			seen[p.Key()] = true
			if p.Chebyshev(center) > r {
				t.Fatalf("r=%d: %v outside radius", r, p)
			}
			if i > 0 && got[i-1].Chebyshev(center) > p.Chebyshev(center) {
				t.Fatalf("r=%d: not sorted at %d", r, i)
			}
		}
	}
}

func TestLoadOrderDeterministic(t *testing.T) {
	a := GenerateLoadOrder(cc(1, 1), 4)
	b := GenerateLoadOrder(cc(1, 1), 4)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
	// Orthogonal neighbours come before diagonals within ring 1.
	if a[1].DistSq(cc(1, 1)) != 1 || a[8].DistSq(cc(1, 1)) != 2 {
		t.Fatalf("ring 1 tie-break: %v", a[:9])
	}
	if GenerateLoadOrder(cc(0, 0), -1) != nil {
		t.Fatalf("negative radius should yield nil")
	}
}
