package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	persistlog "voxelforge.ai/internal/persistence/log"
	"voxelforge.ai/internal/session"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory (events under <data>/events)")
		eventsDir = flag.String("events", "", "events dir containing session-*.jsonl.zst (default: <data>/events)")
		sessionID = flag.String("session", "", "replay only this session id")
		verbose   = flag.Bool("v", false, "print every failed coordinate")
	)
	flag.Parse()

	dir := *eventsDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "events")
	}

	bySession, err := persistlog.ReadEvents(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}

	ids := make([]string, 0, len(bySession))
	for id := range bySession {
		if *sessionID != "" && id != *sessionID {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no sessions found in", dir)
		os.Exit(1)
	}
	// Oldest session first.
	sort.Slice(ids, func(i, j int) bool {
		a, b := bySession[ids[i]][0].Meta().At, bySession[ids[j]][0].Meta().At
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})

	failed := 0
	for _, id := range ids {
		evs := bySession[id]
		st, err := session.Replay(evs)
		if err != nil {
			fmt.Printf("session %s: replay FAILED after %d events: %v\n", id, len(evs), err)
			failed++
			continue
		}
		p := st.Progress
		elapsed := time.Duration(0)
		if !st.FinishedAt.IsZero() {
			elapsed = st.FinishedAt.Sub(st.CreatedAt)
		}
		fmt.Printf("session %s status=%s version=%d events=%d batches=%d chunks=%d completed=%d failed=%d cancelled=%d success_rate=%.3f elapsed=%s\n",
			id, st.Status, st.Version, len(evs), p.TotalBatches, p.TotalChunks,
			p.CompletedChunks, p.FailedChunks, p.CancelledChunks, p.SuccessRate, elapsed)
		if st.FailReason != "" {
			fmt.Printf("  reason: %s\n", st.FailReason)
		}
		if *verbose {
			for _, c := range st.FailedCoords {
				fmt.Printf("  failed chunk %s\n", c)
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
