package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/persistence/codec"
	"voxelforge.ai/internal/repository/sqlrepo"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "region":
			regionCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the region exports under the data dir, oldest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "regions")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".region.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(filepath.Join(base, n))
	}
}

func regionCmd(args []string) {
	fs := flag.NewFlagSet("region", flag.ExitOnError)
	path := fs.String("file", "", "region file (.region.zst)")
	verbose := fs.Bool("v", false, "print one line per chunk")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(2)
	}
	hdr, chunks, err := codec.ReadRegion(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read region:", err)
		os.Exit(1)
	}
	fmt.Printf("region v%d seed=%d chunks=%d written=%s\n", hdr.Version, hdr.Seed, hdr.Chunks, hdr.Written)
	if !*verbose {
		return
	}
	for _, d := range chunks {
		printChunk(d)
	}
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index/chunks.sqlite", "sqlite chunk database")
	key := fs.String("key", "", "chunk key x,z")
	_ = fs.Parse(args)

	c, err := coords.ParseKey(*key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -key:", err)
		os.Exit(2)
	}
	repo, err := sqlrepo.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := repo.Count(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "count:", err)
		os.Exit(1)
	}
	d, err := repo.Load(ctx, c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s (of %d stored): %v\n", c, n, err)
		os.Exit(1)
	}
	printChunk(d)
}

func printChunk(d *chunk.Data) {
	lo, hi := 0, 0
	if d.HeightMap != nil && len(d.HeightMap.Heights) > 0 {
		lo, hi = d.HeightMap.Heights[0], d.HeightMap.Heights[0]
		for _, h := range d.HeightMap.Heights {
			lo = min(lo, h)
			hi = max(hi, h)
		}
	}
	fmt.Printf("%s status=%s height=%d surface=[%d,%d] structures=%d hash=%016x\n",
		d.Coord, d.Status, d.Height, lo, hi, d.StructureCount, d.ContentHash())
}
