// Package tuning loads the world generation knobs from YAML.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"voxelforge.ai/internal/cache"
	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/gen/noise"
	"voxelforge.ai/internal/gen/terrain"
	"voxelforge.ai/internal/session"
)

type Tuning struct {
	Seed         int64 `yaml:"seed"`
	LoadRadius   int   `yaml:"load_radius" validate:"gte=0,lte=32"`
	UnloadRadius int   `yaml:"unload_radius" validate:"gtefield=LoadRadius,lte=64"`

	Noise   Noise   `yaml:"noise"`
	Terrain Terrain `yaml:"terrain"`
	Cache   Cache   `yaml:"cache"`
	Session Session `yaml:"session"`
}

type Noise struct {
	Frequency     float64 `yaml:"frequency" validate:"gt=0"`
	Amplitude     float64 `yaml:"amplitude" validate:"gt=0"`
	Octaves       int     `yaml:"octaves" validate:"gte=1,lte=16"`
	Persistence   float64 `yaml:"persistence" validate:"gt=0,lte=1"`
	Lacunarity    float64 `yaml:"lacunarity" validate:"gte=1"`
	Interpolation string  `yaml:"interpolation" validate:"oneof=linear cosine cubic smoothstep quintic smootherstep"`
}

type Detail struct {
	Enabled   bool    `yaml:"enabled"`
	Frequency float64 `yaml:"frequency" validate:"gte=0"`
	Amplitude float64 `yaml:"amplitude" validate:"gte=0,lte=1"`
	Octaves   int     `yaml:"octaves" validate:"gte=0,lte=8"`
}

type Layer struct {
	Name              string  `yaml:"name" validate:"required"`
	Block             string  `yaml:"block" validate:"required"`
	Depth             int     `yaml:"depth" validate:"gte=0"`
	Priority          int     `yaml:"priority"`
	Density           float64 `yaml:"density" validate:"gte=0"`
	ModifierFrequency float64 `yaml:"modifier_frequency" validate:"gte=0"`
}

type Terrain struct {
	MinHeight   int     `yaml:"min_height" validate:"gte=0"`
	MaxHeight   int     `yaml:"max_height" validate:"gtfield=MinHeight"`
	SeaLevel    int     `yaml:"sea_level" validate:"gte=0"`
	SnowLine    int     `yaml:"snow_line" validate:"gte=0"`
	ChunkHeight int     `yaml:"chunk_height" validate:"gtfield=MaxHeight,lte=1024"`
	Detail      Detail  `yaml:"detail"`
	Layers      []Layer `yaml:"layers" validate:"dive"`
}

type Cache struct {
	MaxLoaded int `yaml:"max_loaded" validate:"gte=0"`
	MaxCached int `yaml:"max_cached" validate:"gte=0"`
}

type Session struct {
	MaxConcurrentGenerations int           `yaml:"max_concurrent_generations" validate:"gte=1,lte=256"`
	MaxAttempts              int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	BatchSize                int           `yaml:"batch_size" validate:"gte=1,lte=1024"`
	RetryInitialDelay        time.Duration `yaml:"retry_initial_delay" validate:"gt=0"`
	RetryMaxDelay            time.Duration `yaml:"retry_max_delay" validate:"gtefield=RetryInitialDelay"`
	MaxSystemicFailures      int           `yaml:"max_systemic_failures" validate:"gte=-1"`
}

func Defaults() Tuning {
	nc := noise.DefaultConfig()
	tc := terrain.DefaultConfig()
	sc := session.DefaultConfig()
	t := Tuning{
		Seed:         1337,
		LoadRadius:   4,
		UnloadRadius: 6,
		Noise: Noise{
			Frequency:     tc.Base.Frequency,
			Amplitude:     nc.Amplitude,
			Octaves:       tc.Base.Octaves,
			Persistence:   nc.Persistence,
			Lacunarity:    nc.Lacunarity,
			Interpolation: nc.Interpolation.String(),
		},
		Terrain: Terrain{
			MinHeight:   tc.MinHeight,
			MaxHeight:   tc.MaxHeight,
			SeaLevel:    tc.SeaLevel,
			SnowLine:    tc.SnowLine,
			ChunkHeight: tc.ChunkHeight,
			Detail: Detail{
				Enabled:   true,
				Frequency: tc.Detail.Frequency,
				Amplitude: tc.Detail.Amplitude,
				Octaves:   tc.Detail.Octaves,
			},
		},
		Cache: Cache{MaxLoaded: 100, MaxCached: 400},
		Session: Session{
			MaxConcurrentGenerations: sc.MaxConcurrentGenerations,
			MaxAttempts:              sc.MaxAttempts,
			BatchSize:                sc.BatchSize,
			RetryInitialDelay:        sc.RetryInitialDelay,
			RetryMaxDelay:            sc.RetryMaxDelay,
			MaxSystemicFailures:      sc.MaxSystemicFailures,
		},
	}
	for _, l := range tc.Layers {
		t.Terrain.Layers = append(t.Terrain.Layers, Layer{
			Name:              l.Name,
			Block:             l.Block.String(),
			Depth:             l.Depth,
			Priority:          l.Priority,
			Density:           l.Density,
			ModifierFrequency: l.ModifierFrequency,
		})
	}
	return t
}

// Load reads path over Defaults, normalizes and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values a YAML file may leave behind.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.UnloadRadius == 0 {
		t.UnloadRadius = t.LoadRadius + 2
	}
	t.Noise.Interpolation = strings.ToLower(strings.TrimSpace(t.Noise.Interpolation))
	if t.Noise.Interpolation == "" {
		t.Noise.Interpolation = d.Noise.Interpolation
	}
	if t.Noise.Octaves == 0 {
		t.Noise.Octaves = d.Noise.Octaves
	}
	if t.Noise.Lacunarity == 0 {
		t.Noise.Lacunarity = d.Noise.Lacunarity
	}
	if t.Noise.Persistence == 0 {
		t.Noise.Persistence = d.Noise.Persistence
	}
	if len(t.Terrain.Layers) == 0 {
		t.Terrain.Layers = d.Terrain.Layers
	}
	for i := range t.Terrain.Layers {
		t.Terrain.Layers[i].Block = strings.ToUpper(strings.TrimSpace(t.Terrain.Layers[i].Block))
	}
	if t.Session.MaxConcurrentGenerations == 0 {
		t.Session.MaxConcurrentGenerations = d.Session.MaxConcurrentGenerations
	}
	if t.Session.MaxAttempts == 0 {
		t.Session.MaxAttempts = d.Session.MaxAttempts
	}
	if t.Session.BatchSize == 0 {
		t.Session.BatchSize = d.Session.BatchSize
	}
	if t.Session.RetryInitialDelay == 0 {
		t.Session.RetryInitialDelay = d.Session.RetryInitialDelay
	}
	if t.Session.RetryMaxDelay == 0 {
		t.Session.RetryMaxDelay = d.Session.RetryMaxDelay
	}
}

var validate = validator.New()

// Validate runs the struct tag rules, then the checks that span sections.
func (t Tuning) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid tuning: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	tc, err := t.TerrainConfig()
	if err != nil {
		return err
	}
	return tc.Validate()
}

// Warnings reports advisory noise settings.
func (t Tuning) Warnings() []noise.Warning {
	nc, err := t.NoiseConfig()
	if err != nil {
		return nil
	}
	return noise.ValidateConfig(nc)
}

func (t Tuning) NoiseConfig() (noise.Config, error) {
	mode, err := noise.ParseInterpolation(t.Noise.Interpolation)
	if err != nil {
		return noise.Config{}, err
	}
	return noise.Config{
		Frequency:     t.Noise.Frequency,
		Amplitude:     t.Noise.Amplitude,
		Octaves:       t.Noise.Octaves,
		Persistence:   t.Noise.Persistence,
		Lacunarity:    t.Noise.Lacunarity,
		Interpolation: mode,
	}, nil
}

func (t Tuning) TerrainConfig() (terrain.Config, error) {
	base, err := t.NoiseConfig()
	if err != nil {
		return terrain.Config{}, err
	}
	tc := terrain.DefaultConfig()
	tc.Base = base
	tc.MinHeight = t.Terrain.MinHeight
	tc.MaxHeight = t.Terrain.MaxHeight
	tc.SeaLevel = t.Terrain.SeaLevel
	tc.SnowLine = t.Terrain.SnowLine
	tc.ChunkHeight = t.Terrain.ChunkHeight
	if t.Terrain.Detail.Enabled {
		d := *tc.Detail
		d.Frequency = t.Terrain.Detail.Frequency
		d.Amplitude = t.Terrain.Detail.Amplitude
		d.Octaves = t.Terrain.Detail.Octaves
		tc.Detail = &d
	} else {
		tc.Detail = nil
	}
	tc.Layers = tc.Layers[:0:0]
	for _, l := range t.Terrain.Layers {
		b, ok := chunk.ParseBlockType(l.Block)
		if !ok {
			return terrain.Config{}, fmt.Errorf("layer %q: unknown block %q", l.Name, l.Block)
		}
		tc.Layers = append(tc.Layers, terrain.LayerDef{
			Name:              l.Name,
			Block:             b,
			Depth:             l.Depth,
			Priority:          l.Priority,
			Density:           l.Density,
			ModifierFrequency: l.ModifierFrequency,
		})
	}
	return tc, nil
}

func (t Tuning) CacheConfig() cache.Config {
	return cache.Config{MaxLoaded: t.Cache.MaxLoaded, MaxCached: t.Cache.MaxCached}
}

func (t Tuning) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.MaxConcurrentGenerations = t.Session.MaxConcurrentGenerations
	sc.MaxAttempts = t.Session.MaxAttempts
	sc.BatchSize = t.Session.BatchSize
	sc.RetryInitialDelay = t.Session.RetryInitialDelay
	sc.RetryMaxDelay = t.Session.RetryMaxDelay
	sc.MaxSystemicFailures = t.Session.MaxSystemicFailures
	return sc
}
