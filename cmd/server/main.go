package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/engine"
	persistlog "voxelforge.ai/internal/persistence/log"
	"voxelforge.ai/internal/session"
	"voxelforge.ai/internal/transport/ws"
	"voxelforge.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Int64("seed", 0, "world seed (0 keeps the tuning file's seed)")
		preload    = flag.Bool("preload", true, "generate the area around the origin at startup")
		envFile    = flag.String("env", ".env", "optional dotenv file")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Printf("load %s: %v", *envFile, err)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	for _, w := range tune.Warnings() {
		logger.Printf("tuning warning: %s", w)
	}
	terrainCfg, err := tune.TerrainConfig()
	if err != nil {
		logger.Fatalf("terrain config: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	repo, backend, err := openRepository(*dataDir)
	if err != nil {
		logger.Fatalf("open repository (%s): %v", backend, err)
	}
	logger.Printf("repository backend: %s", backend)

	mir, err := buildMirror(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}
	defer mir.Close()

	eventLog := persistlog.NewEventLogger(*dataDir)
	defer eventLog.Close()

	deps := engine.Deps{
		Logger:  log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds),
		Sinks:   []session.Sink{eventLog},
		Mirror:  mir,
		DataDir: *dataDir,
	}
	if repo != nil {
		deps.Repository = repo
	}
	w, err := engine.New(engine.Config{
		Seed:         coords.WorldSeed(tune.Seed),
		Terrain:      terrainCfg,
		Cache:        tune.CacheConfig(),
		Session:      tune.SessionConfig(),
		LoadRadius:   tune.LoadRadius,
		UnloadRadius: tune.UnloadRadius,
	}, deps)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	logger.Printf("world seed=%d load_radius=%d", tune.Seed, tune.LoadRadius)

	ctx, cancel := signalContext()
	defer cancel()

	if *preload {
		if err := w.UpdatePlayerPosition(coords.WorldPos{0, float64(terrainCfg.SeaLevel), 0}); err != nil {
			logger.Printf("preload: %v", err)
		}
	}

	if every := envInt("VF_EXPORT_EVERY_S", 0); every > 0 {
		go func() {
			t := time.NewTicker(time.Duration(every) * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-t.C:
					if _, err := w.ExportRegion(now); err != nil {
						logger.Printf("export region: %v", err)
					}
				}
			}
		}()
	}

	wsSrv := ws.NewServer(w, log.New(os.Stdout, "[ws] ", log.LstdFlags))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Backend       string          `json:"repository_backend"`
			Clients       int64           `json:"clients"`
			DroppedFrames uint64          `json:"dropped_frames"`
			EventLines    uint64          `json:"event_log_lines"`
			World         engine.Snapshot `json:"world"`
		}{
			Backend:       backend,
			Clients:       wsSrv.Clients(),
			DroppedFrames: wsSrv.DroppedFrames(),
			EventLines:    eventLog.Lines(),
			World:         w.PerformanceSnapshot(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w.PerformanceSnapshot(), wsSrv.Clients())
	})
	mux.HandleFunc("/admin/v1/export", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		path, err := w.ExportRegion(time.Now())
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path})
	})
	if envBool("VF_ENABLE_PPROF_HTTP", true) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VF_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	shutdown(w, repo, logger)
}

type closer interface{ Close() error }

func shutdown(w *engine.World, repo closer, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		logger.Printf("close world: %v", err)
	}
	if envBool("VF_EXPORT_ON_EXIT", false) {
		if _, err := w.ExportRegion(time.Now()); err != nil {
			logger.Printf("export region: %v", err)
		}
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			logger.Printf("close repository: %v", err)
		}
		if err := w.WaitRepository(ctx); err != nil {
			logger.Printf("repository events: %v", err)
		}
	}
	logger.Printf("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeMetrics(rw http.ResponseWriter, s engine.Snapshot, clients int64) {
	fmt.Fprintf(rw, "# HELP voxelforge_loaded_chunks Loaded chunk count.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_loaded_chunks gauge\n")
	fmt.Fprintf(rw, "voxelforge_loaded_chunks %d\n", s.LoadedChunks)

	fmt.Fprintf(rw, "# HELP voxelforge_cached_chunks Cached (unloaded) chunk count.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_cached_chunks gauge\n")
	fmt.Fprintf(rw, "voxelforge_cached_chunks %d\n", s.CachedChunks)

	fmt.Fprintf(rw, "# HELP voxelforge_memory_bytes Estimated chunk memory.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_memory_bytes gauge\n")
	fmt.Fprintf(rw, "voxelforge_memory_bytes %d\n", s.MemoryUsage)

	fmt.Fprintf(rw, "# HELP voxelforge_clients Connected websocket clients.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_clients gauge\n")
	fmt.Fprintf(rw, "voxelforge_clients %d\n", clients)

	fmt.Fprintf(rw, "# HELP voxelforge_sessions_started_total Generation sessions started.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_sessions_started_total counter\n")
	fmt.Fprintf(rw, "voxelforge_sessions_started_total %d\n", s.SessionsStarted)

	fmt.Fprintf(rw, "# HELP voxelforge_repository_events_total Repository events by kind.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_repository_events_total counter\n")
	fmt.Fprintf(rw, "voxelforge_repository_events_total{kind=%q} %d\n", "loaded", s.Repository.Loaded)
	fmt.Fprintf(rw, "voxelforge_repository_events_total{kind=%q} %d\n", "saved", s.Repository.Saved)
	fmt.Fprintf(rw, "voxelforge_repository_events_total{kind=%q} %d\n", "skipped", s.Repository.Skipped)
	fmt.Fprintf(rw, "voxelforge_repository_events_total{kind=%q} %d\n", "missing", s.Repository.Missing)
	fmt.Fprintf(rw, "voxelforge_repository_events_total{kind=%q} %d\n", "failed", s.Repository.Failed)

	if c := s.Current; c != nil {
		fmt.Fprintf(rw, "# HELP voxelforge_session_progress Fraction of the current session's chunks that finished.\n")
		fmt.Fprintf(rw, "# TYPE voxelforge_session_progress gauge\n")
		fmt.Fprintf(rw, "voxelforge_session_progress{session=%q} %.6f\n", c.SessionID, c.Progress.Fraction())
	}

	fmt.Fprintf(rw, "# HELP voxelforge_mirror_queue_depth Current mirror queue depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelforge_mirror_queue_depth %d\n", s.Mirror.QueueDepth)

	fmt.Fprintf(rw, "# HELP voxelforge_mirror_upload_success_total Total successful mirror uploads.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_mirror_upload_success_total counter\n")
	fmt.Fprintf(rw, "voxelforge_mirror_upload_success_total %d\n", s.Mirror.UploadSuccessTotal)

	fmt.Fprintf(rw, "# HELP voxelforge_mirror_upload_fail_total Total failed mirror uploads after retry.\n")
	fmt.Fprintf(rw, "# TYPE voxelforge_mirror_upload_fail_total counter\n")
	fmt.Fprintf(rw, "voxelforge_mirror_upload_fail_total %d\n", s.Mirror.UploadFailTotal)
}
