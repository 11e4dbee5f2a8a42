package noise

import (
	"math"
	"testing"
)

func TestSampleDeterministic(t *testing.T) {
	a := New(12345)
	b := New(12345)
	cfg := DefaultConfig()
	for i := 0; i < 200; i++ {
		x := float64(i)*1.7 - 100
		z := float64(i)*2.3 + 40
		if math.Float64bits(a.Sample2D(x, z, cfg)) != math.Float64bits(b.Sample2D(x, z, cfg)) {
			t.Fatalf("Sample2D not deterministic at (%f, %f)", x, z)
		}
		if math.Float64bits(a.OctaveStack(x, z, cfg)) != math.Float64bits(b.OctaveStack(x, z, cfg)) {
			t.Fatalf("OctaveStack not deterministic at (%f, %f)", x, z)
		}
		if a.Sample3D(x, 7, z, cfg) != b.Sample3D(x, 7, z, cfg) {
			t.Fatalf("Sample3D not deterministic at (%f, %f)", x, z)
		}
	}
}

func TestSeedsDiffer(t *testing.T) {
	a := New(1)
	b := New(2)
	cfg := Config{Frequency: 0.13, Amplitude: 1, Octaves: 1, Persistence: 0.5, Lacunarity: 2}
	same := 0
	for i := 0; i < 64; i++ {
		x := float64(i) * 0.77
		if a.Sample2D(x, x*0.5, cfg) == b.Sample2D(x, x*0.5, cfg) {
			same++
		}
	}
	if same == 64 {
		t.Fatalf("different seeds produced identical samples")
	}
}

func TestSampleRange(t *testing.T) {
	f := New(42)
	for _, mode := range []Interpolation{Linear, Cosine, Cubic, Quintic} {
		for _, amp := range []float64{0.5, 1, 3} {
			cfg := Config{Frequency: 0.37, Amplitude: amp, Octaves: 5, Persistence: 0.6, Lacunarity: 2.1, Interpolation: mode}
			for i := 0; i < 2000; i++ {
				x := float64(i)*0.37 - 500
				z := float64(i)*0.53 - 500
				for _, v := range []float64{
					f.Sample2D(x, z, cfg),
					f.Sample3D(x, z*0.5, z, cfg),
					f.OctaveStack(x, z, cfg),
					f.Billow(x, z, cfg),
					f.Ridge(x, z, cfg, 0.2),
				} {
					if v < -1 || v > 1 || math.IsNaN(v) {
						t.Fatalf("%s amp=%g: value %f out of [-1,1] at (%f, %f)", mode, amp, v, x, z)
					}
				}
			}
		}
	}
}

func TestSamplingIsTotal(t *testing.T) {
	f := New(7)
	cfg := DefaultConfig()
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1e15, 1e15} {
		got := f.Sample2D(v, 3, cfg)
		if got < -1 || got > 1 || math.IsNaN(got) {
			t.Fatalf("Sample2D(%v) = %v", v, got)
		}
	}
}

func TestLatticePointsAreZero(t *testing.T) {
	f := New(99)
	cfg := Config{Frequency: 1, Amplitude: 1, Octaves: 1}
	for x := -5; x <= 5; x++ {
		if v := f.Sample2D(float64(x), float64(x*3), cfg); v != 0 {
			t.Fatalf("gradient noise should vanish on lattice points, got %v", v)
		}
	}
}

func TestOctaveNormalized(t *testing.T) {
	f := New(3)
	if v := f.Octave(1, 2, nil); v != 0 {
		t.Fatalf("empty octave list = %v, want 0", v)
	}
	one := Config{Frequency: 0.21, Amplitude: 1}
	single := f.Octave(4.5, 9.25, []Config{one})
	if single != f.Sample2D(4.5, 9.25, one) {
		t.Fatalf("single octave should match Sample2D: %v vs %v", single, f.Sample2D(4.5, 9.25, one))
	}
	scaled := one
	scaled.Amplitude = 4
	if f.Octave(4.5, 9.25, []Config{scaled}) != single {
		t.Fatalf("octave weight should normalize out")
	}
}

func TestOctavesExpansion(t *testing.T) {
	oct := Octaves(Config{Frequency: 0.1, Amplitude: 2, Octaves: 3, Persistence: 0.5, Lacunarity: 2})
	if len(oct) != 3 {
		t.Fatalf("len=%d", len(oct))
	}
	if oct[2].Frequency != 0.4 || oct[2].Amplitude != 0.5 {
		t.Fatalf("octave 2 = %+v", oct[2])
	}
}

func TestRidgeThreshold(t *testing.T) {
	f := New(11)
	cfg := DefaultConfig()
	for i := 0; i < 500; i++ {
		x := float64(i) * 3.1
		v := f.Ridge(x, -x, cfg, 0.9)
		if v != 0 && v < 0.9 {
			t.Fatalf("ridge value %v below threshold should be 0", v)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	if w := ValidateConfig(DefaultConfig()); len(w) != 0 {
		t.Fatalf("default config warned: %v", w)
	}
	bad := Config{Frequency: 4, Amplitude: 1, Octaves: 40, Persistence: 1.5, Lacunarity: 2}
	w := ValidateConfig(bad)
	if len(w) != 3 {
		t.Fatalf("expected 3 warnings, got %v", w)
	}
	params := map[string]bool{}
	for _, x := range w {
		params[x.Param] = true
		if x.Error() == "" {
			t.Fatalf("empty warning text")
		}
	}
	for _, p := range []string{"frequency", "octaves", "persistence"} {
		if !params[p] {
			t.Fatalf("missing warning for %s", p)
		}
	}
}

func TestParseInterpolation(t *testing.T) {
	for _, m := range []Interpolation{Linear, Cosine, Cubic, Quintic} {
		got, err := ParseInterpolation(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseInterpolation(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseInterpolation("spline"); err == nil {
		t.Fatalf("expected error")
	}
}
