package sqlrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/repository"
)

func testChunk(c coords.ChunkCoord, marker chunk.BlockType) *chunk.Data {
	d := chunk.New(c, 4)
	d.SetBlock(3, 1, 3, marker)
	hm := chunk.NewHeightMap(c.X*16, c.Z*16, 16, 16, 0, 3)
	hm.Set(3, 3, 1)
	d.HeightMap = hm
	return d
}

func exerciseRepo(t *testing.T, r repository.Repository) {
	t.Helper()
	ctx := context.Background()
	c := coords.ChunkCoord{X: -7, Z: 11}

	if _, err := r.Load(ctx, c); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Save(ctx, c, testChunk(c, chunk.Stone)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.Save(ctx, c, testChunk(c, chunk.Stone)); err != nil {
		t.Fatalf("Save unchanged: %v", err)
	}
	// Blocks are not part of the content hash, so this save is skipped.
	if err := r.Save(ctx, c, testChunk(c, chunk.Sand)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.Load(ctx, c)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Coord != c || got.Block(3, 1, 3) != chunk.Stone {
		t.Fatalf("loaded %v block %s", got.Coord, got.Block(3, 1, 3))
	}

	changed := testChunk(c, chunk.Stone)
	changed.StructureCount = 4
	if err := r.Save(ctx, c, changed); err != nil {
		t.Fatalf("Save changed: %v", err)
	}
	got, err = r.Load(ctx, c)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StructureCount != 4 {
		t.Fatalf("update not persisted: structures=%d", got.StructureCount)
	}
}

func TestSQLiteRepo(t *testing.T) {
	r, err := OpenSQLite(filepath.Join(t.TempDir(), "chunks.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer r.Close()
	exerciseRepo(t, r)

	st := r.Stats()
	if st.Writes != 2 || st.Skipped != 2 {
		t.Fatalf("stats %+v", st)
	}
	kinds := map[repository.EventKind]int{}
	for len(r.Observe()) > 0 {
		kinds[(<-r.Observe()).Kind]++
	}
	if kinds[repository.EventSaved] != 2 || kinds[repository.EventSkipped] != 2 {
		t.Fatalf("events %v", kinds)
	}
}

func TestSQLiteConcurrentSaves(t *testing.T) {
	r, err := OpenSQLite(filepath.Join(t.TempDir(), "chunks.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer r.Close()
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := coords.ChunkCoord{X: i, Z: -i}
			if err := r.Save(ctx, c, testChunk(c, chunk.Dirt)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Save: %v", err)
	}
	n, err := r.Count(ctx)
	if err != nil || n != 64 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if st := r.Stats(); st.Commits == 0 || st.Commits > 64 {
		t.Fatalf("commits %d", st.Commits)
	}
}

func TestClosedRepoRejects(t *testing.T) {
	r, err := OpenSQLite(filepath.Join(t.TempDir(), "chunks.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = r.Close()
	c := coords.ChunkCoord{}
	if err := r.Save(context.Background(), c, testChunk(c, chunk.Dirt)); !errors.Is(err, repository.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPostgresBind(t *testing.T) {
	got := Postgres.bind(`SELECT a FROM t WHERE k = ? AND x = ?`)
	if got != `SELECT a FROM t WHERE k = $1 AND x = $2` {
		t.Fatalf("bind = %q", got)
	}
	if SQLite.bind("?") != "?" {
		t.Fatalf("sqlite placeholders must stay")
	}
}

func TestPostgresRepo(t *testing.T) {
	dsn := os.Getenv("VF_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VF_TEST_POSTGRES_DSN not set")
	}
	r, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer r.Close()
	if _, err := r.db.Exec(`DELETE FROM chunks`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	exerciseRepo(t, r)
}
