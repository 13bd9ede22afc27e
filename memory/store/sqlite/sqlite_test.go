package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/symbiote/memory"
	"github.com/becomeliminal/symbiote/memory/store/sqlite"
)

func setupStore(t *testing.T, path string, dims int) *sqlite.Store {
	t.Helper()

	s, err := sqlite.New(context.Background(), sqlite.Config{
		Path:       path,
		Collection: "memories",
		Dimensions: dims,
	})
	gt.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, filepath.Join(t.TempDir(), "memories.db"), 3)

	created := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)
	gt.NoError(t, s.Add(ctx, &memory.Record{
		ID:        "mem_1",
		Content:   "User prefers dark mode",
		Embedding: []float32{0.6, 0.8, 0},
		Tags:      []string{"preference", "ui|theme", "comma, inside"},
		CreatedAt: created,
	}))
	gt.NoError(t, s.Add(ctx, &memory.Record{
		ID:        "mem_2",
		Content:   "Working on the billing service",
		Embedding: []float32{0, 0, 1},
		CreatedAt: created.Add(time.Second),
	}))

	hits, err := s.Query(ctx, []float32{0.6, 0.8, 0}, 1)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)

	rec := hits[0].Record
	gt.Equal(t, rec.ID, "mem_1")
	gt.Equal(t, rec.Content, "User prefers dark mode")
	gt.Equal(t, rec.Tags, []string{"preference", "ui|theme", "comma, inside"})
	gt.Equal(t, rec.Embedding, []float32{0.6, 0.8, 0})
	gt.True(t, rec.CreatedAt.Equal(created))
	gt.True(t, hits[0].Distance < 1e-6)

	hits, err = s.Query(ctx, []float32{0.6, 0.8, 0}, 20)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[1].Record.ID, "mem_2")
	gt.V(t, hits[1].Record.Tags).Nil()
}

func TestSQLiteStore_DuplicateIDIsRejected(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, filepath.Join(t.TempDir(), "memories.db"), 2)

	rec := &memory.Record{ID: "mem_1", Content: "a", Embedding: []float32{1, 0}, CreatedAt: time.Now()}
	gt.NoError(t, s.Add(ctx, rec))

	err := s.Add(ctx, rec)
	gt.Error(t, err)
	gt.True(t, memory.IsPersistenceFailure(err))

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func TestSQLiteStore_CountSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "memories.db")

	s, err := sqlite.New(ctx, sqlite.Config{Path: path, Collection: "memories", Dimensions: 2})
	gt.NoError(t, err)
	for i, id := range []string{"mem_a", "mem_b", "mem_c"} {
		gt.NoError(t, s.Add(ctx, &memory.Record{
			ID:        id,
			Content:   id,
			Embedding: []float32{1, float32(i)},
			CreatedAt: time.Now(),
		}))
	}
	gt.NoError(t, s.Close())

	reopened := setupStore(t, path, 2)
	n, err := reopened.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 3)

	_, err = sqlite.New(ctx, sqlite.Config{Path: path, Collection: "memories", Dimensions: 384})
	gt.Error(t, err)
	gt.True(t, memory.IsPersistenceFailure(err))
}

func TestSQLiteStore_ConcurrentAddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, filepath.Join(t.TempDir(), "memories.db"), 2)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- s.Add(ctx, &memory.Record{
				ID:        "mem_" + time.Now().Format("150405.000000000") + string(rune('a'+i)),
				Content:   "concurrent",
				Embedding: []float32{1, 1},
				CreatedAt: time.Now(),
			})
		}(i)
		go func() {
			defer wg.Done()
			hits, err := s.Query(ctx, []float32{1, 1}, 20)
			if err == nil {
				for _, hit := range hits {
					if hit.Record.Content != "concurrent" || len(hit.Record.Embedding) != 2 {
						err = errors.New("partially visible record " + hit.Record.ID)
						break
					}
				}
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		gt.NoError(t, err)
	}

	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 20)
}

func TestSQLiteStore_RejectsBadCollectionName(t *testing.T) {
	_, err := sqlite.New(context.Background(), sqlite.Config{
		Path:       filepath.Join(t.TempDir(), "memories.db"),
		Collection: "memories; DROP TABLE x",
		Dimensions: 2,
	})
	gt.Error(t, err)
}

// insertRaw writes a row directly, bypassing Store.Add.
func insertRaw(t *testing.T, path, id, emb, tags, createdAt string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	gt.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO memories (id, content, embedding, tags, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, "raw "+id, emb, tags, createdAt)
	gt.NoError(t, err)
}

func TestSQLiteStore_LegacyCommaTags(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memories.db")
	_ = setupStore(t, path, 2)

	insertRaw(t, path, "mem_legacy", "[1,0]", "[wip],todo", "2025-06-10T08:00:00.123456+00:00")

	s := setupStore(t, path, 2)
	hits, err := s.Query(ctx, []float32{1, 0}, 5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Record.Tags, []string{"[wip]", "todo"})
}

func TestSQLiteStore_QueryFailsOnUnreadableRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memories.db")
	_ = setupStore(t, path, 2)

	insertRaw(t, path, "mem_broken", "[1,0]", "", "yesterday")

	s := setupStore(t, path, 2)
	n, err := s.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	_, err = s.Query(ctx, []float32{1, 0}, 5)
	gt.Error(t, err)
	gt.True(t, memory.IsPersistenceFailure(err))
}
