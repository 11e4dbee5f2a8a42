package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"runtime/pprof"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/gen/terrain"
	"voxelforge.ai/internal/tuning"
)

type colorVec [3]float64

func rgb(r, g, b uint8) colorVec { return colorVec{float64(r), float64(g), float64(b)} }

func (c colorVec) lerp(o colorVec, t float64) colorVec {
	return colorVec{c[0] + (o[0]-c[0])*t, c[1] + (o[1]-c[1])*t, c[2] + (o[2]-c[2])*t}
}

func (c colorVec) rgba() color.RGBA {
	return color.RGBA{R: uint8(c[0]), G: uint8(c[1]), B: uint8(c[2]), A: 255}
}

var (
	deepWater    = rgb(0, 50, 115)
	shallowWater = rgb(0, 75, 130)
	sand         = rgb(194, 178, 128)
	grass        = rgb(90, 180, 30)
	rock         = rgb(105, 110, 115)
	snow         = rgb(235, 235, 240)
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Int64("seed", 0, "world seed (0 keeps the tuning file's seed)")
		x          = flag.Int("x", -256, "west edge in blocks")
		z          = flag.Int("z", -256, "north edge in blocks")
		size       = flag.Int("size", 512, "image edge in blocks")
		out        = flag.String("out", "heightmap.png", "output png")
		cpuProfile = flag.String("cpuprofile", "", "write cpu profile to `file`")
	)
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	cfg, err := tune.TerrainConfig()
	if err != nil {
		log.Fatalf("terrain config: %v", err)
	}
	b, err := terrain.NewBounds(*x, *z, *size, *size)
	if err != nil {
		log.Fatal(err)
	}
	hm, err := terrain.GenerateHeightMap(b, cfg, coords.WorldSeed(tune.Seed))
	if err != nil {
		log.Fatal(err)
	}

	file, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()
	if err := png.Encode(file, render(hm, cfg)); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%dx%d, seed %d, checksum %016x)\n", *out, hm.Width, hm.Depth, tune.Seed, hm.Checksum())
}

func render(hm *chunk.HeightMap, cfg terrain.Config) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, hm.Width, hm.Depth))
	for j := 0; j < hm.Depth; j++ {
		for i := 0; i < hm.Width; i++ {
			img.SetRGBA(i, j, shade(hm.At(i, j), cfg).rgba())
		}
	}
	return img
}

func shade(h int, cfg terrain.Config) colorVec {
	switch {
	case h < cfg.SeaLevel:
		span := float64(cfg.SeaLevel - cfg.MinHeight)
		if span <= 0 {
			return shallowWater
		}
		return deepWater.lerp(shallowWater, clamp(float64(h-cfg.MinHeight)/span))
	case h <= cfg.SeaLevel+2:
		return sand
	case h < cfg.SnowLine:
		span := float64(cfg.SnowLine - cfg.SeaLevel)
		return grass.lerp(rock, clamp(float64(h-cfg.SeaLevel)/span))
	default:
		return snow
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
