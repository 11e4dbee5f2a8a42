package noise

import (
	"fmt"
	"math"
	"strings"
)

// Interpolation selects the weight curve used to blend lattice corners.
type Interpolation int

const (
	Linear Interpolation = iota
	Cosine
	Cubic
	Quintic
)

func (m Interpolation) String() string {
	switch m {
	case Linear:
		return "linear"
	case Cosine:
		return "cosine"
	case Cubic:
		return "cubic"
	case Quintic:
		return "quintic"
	}
	return fmt.Sprintf("interpolation(%d)", int(m))
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return Linear, nil
	case "cosine":
		return Cosine, nil
	case "cubic", "smoothstep":
		return Cubic, nil
	case "", "quintic", "smootherstep":
		return Quintic, nil
	}
	return Quintic, fmt.Errorf("unknown interpolation %q", s)
}

func (m Interpolation) weight(t float64) float64 {
	switch m {
	case Linear:
		return t
	case Cosine:
		return (1 - math.Cos(t*math.Pi)) * 0.5
	case Cubic:
		return t * t * (3 - 2*t)
	default:
		return t * t * t * (t*(t*6-15) + 10)
	}
}

type Config struct {
	Frequency     float64
	Amplitude     float64
	Octaves       int
	Persistence   float64
	Lacunarity    float64
	Interpolation Interpolation
}

func DefaultConfig() Config {
	return Config{
		Frequency:     0.01,
		Amplitude:     1,
		Octaves:       4,
		Persistence:   0.5,
		Lacunarity:    2,
		Interpolation: Quintic,
	}
}

// Warning is an advisory note about a config value. Sampling still works
// with the value as given.
type Warning struct {
	Param string
	Value float64
	Hint  string
}

func (w Warning) Error() string {
	return fmt.Sprintf("noise config: %s=%g %s", w.Param, w.Value, w.Hint)
}

// ValidateConfig reports values that are legal but likely to produce
// degenerate terrain. It never rejects a config.
func ValidateConfig(cfg Config) []Warning {
	var out []Warning
	if cfg.Frequency <= 0 || cfg.Frequency > 1 {
		out = append(out, Warning{"frequency", cfg.Frequency, "outside (0, 1]; samples alias or stay flat"})
	}
	if cfg.Octaves < 1 || cfg.Octaves > 16 {
		out = append(out, Warning{"octaves", float64(cfg.Octaves), "outside [1, 16]"})
	}
	if cfg.Persistence <= 0 || cfg.Persistence >= 1 {
		out = append(out, Warning{"persistence", cfg.Persistence, "outside (0, 1); higher octaves dominate or vanish"})
	}
	if cfg.Lacunarity < 1 {
		out = append(out, Warning{"lacunarity", cfg.Lacunarity, "below 1; octaves get coarser instead of finer"})
	}
	if cfg.Amplitude <= 0 {
		out = append(out, Warning{"amplitude", cfg.Amplitude, "not positive; output is flat"})
	}
	return out
}
