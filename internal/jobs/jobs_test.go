package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"postpulse/internal/model"
	"postpulse/internal/normalize"
	"postpulse/internal/similarity"
	"postpulse/internal/store/sqlitevec"
)

const postsCSV = "post_id,post_type,likes,comments,shares,date_posted,hashtags\n" +
	"1,photo,10,1,0,2024-03-01 09:00,#launch\n" +
	"2,video,30,3,2,2024-03-02 18:00,#launch #summer\n" +
	"3,photo,-4,0,0,2024-03-03 12:00,\n" +
	"4,reel,12,0,5,2024-03-04 20:00,summer\n"

func setup(t *testing.T) (*sqlitevec.DB, string) {
	t.Helper()
	db, err := sqlitevec.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	path := filepath.Join(t.TempDir(), "posts.csv")
	if err := os.WriteFile(path, []byte(postsCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return db, path
}

func TestRunImportOnceStoresAcceptedAndSkipsUnchanged(t *testing.T) {
	db, path := setup(t)
	ctx := context.Background()
	sum, err := RunImportOnce(ctx, db, path, normalize.Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 4 || sum.Accepted != 3 || len(sum.Rejected) != 1 || sum.BatchID == "" {
		t.Fatalf("summary: %+v", sum)
	}
	if !errors.Is(sum.Rejected[0], model.ErrNegativeCounter) {
		t.Fatalf("rejection cause: %v", sum.Rejected[0])
	}
	c, err := db.LoadCorpus(ctx)
	if err != nil || c.Len() != 3 {
		t.Fatalf("stored corpus: %d %v", c.Len(), err)
	}
	again, err := RunImportOnce(ctx, db, path, normalize.Options{}, false)
	if err != nil || !again.Skipped {
		t.Fatalf("expected skip: %+v %v", again, err)
	}
	forced, err := RunImportOnce(ctx, db, path, normalize.Options{}, true)
	if err != nil || forced.Skipped || forced.Accepted != 3 {
		t.Fatalf("forced: %+v %v", forced, err)
	}
	imports, err := db.LoadImports(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil || len(imports) != 2 {
		t.Fatalf("import history: %v %v", imports, err)
	}
}

func TestRunImportOnceMissingFile(t *testing.T) {
	db, _ := setup(t)
	if _, err := RunImportOnce(context.Background(), db, "/does/not/exist.csv", normalize.Options{}, false); err == nil {
		t.Fatal("expected error")
	}
}

type recordingStore struct {
	mu       sync.Mutex
	versions []string
	deleted  []string
}

func (r *recordingStore) Upsert(_ context.Context, version string, _ []similarity.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, version)
	return nil
}

func (r *recordingStore) DeleteVersion(_ context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, version)
	return nil
}

func (r *recordingStore) Search(context.Context, string, similarity.FeatureVector, int) ([]similarity.Neighbor, error) {
	return nil, nil
}

func TestRefreshOnceRebuildsOnlyOnChange(t *testing.T) {
	db, path := setup(t)
	ctx := context.Background()
	mirror := &recordingStore{}
	holder := NewIndexHolder(2, mirror)
	if holder.Current().Len() != 0 || !holder.BuiltAt().IsZero() {
		t.Fatal("holder should start empty")
	}
	opts := RefreshOptions{SourcePath: path}
	rebuilt, err := RefreshOnce(ctx, db, holder, opts)
	if err != nil || !rebuilt {
		t.Fatalf("first refresh: %v %v", rebuilt, err)
	}
	c, ix := holder.Snapshot()
	if c.Len() != 3 || ix.Len() != 3 || ix.CheckFresh(c) != nil {
		t.Fatalf("snapshot: %d posts, %d indexed", c.Len(), ix.Len())
	}
	rebuilt, err = RefreshOnce(ctx, db, holder, opts)
	if err != nil || rebuilt {
		t.Fatalf("unchanged corpus rebuilt: %v %v", rebuilt, err)
	}

	grown := postsCSV + "5,text,2,0,0,2024-03-05 07:00,#fresh\n"
	if err := os.WriteFile(path, []byte(grown), 0o644); err != nil {
		t.Fatal(err)
	}
	rebuilt, err = RefreshOnce(ctx, db, holder, opts)
	if err != nil || !rebuilt || holder.Current().Len() != 4 {
		t.Fatalf("grown corpus: %v %v %d", rebuilt, err, holder.Current().Len())
	}
	if len(mirror.versions) != 2 || mirror.versions[0] == mirror.versions[1] {
		t.Fatalf("mirrored versions: %v", mirror.versions)
	}
	if len(mirror.deleted) != 1 || mirror.deleted[0] != mirror.versions[0] {
		t.Fatalf("replaced version not pruned: %v", mirror.deleted)
	}
}

func TestRebuildPrunesReplacedVersionInStore(t *testing.T) {
	db, _ := setup(t)
	ctx := context.Background()
	holder := NewIndexHolder(0, db)
	c, err := model.NewCorpus([]model.PostMetrics{
		{PostID: "1", PostType: model.PostTypePhoto, Likes: 10, DatePosted: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), Hashtags: []string{"launch"}},
		{PostID: "2", PostType: model.PostTypeVideo, Likes: 20, DatePosted: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatal(err)
	}
	first, err := holder.Rebuild(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	// same tokens keep the version and replace its rows
	bumped, _ := model.NewCorpus(append(c.Posts()[:1], model.PostMetrics{PostID: "2", PostType: model.PostTypeVideo, Likes: 25, DatePosted: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)}))
	if _, err := holder.Rebuild(ctx, bumped); err != nil {
		t.Fatal(err)
	}
	grown, _ := bumped.Append(model.PostMetrics{PostID: "3", PostType: model.PostTypeReel, Likes: 5, DatePosted: time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC), Hashtags: []string{"fresh"}})
	second, err := holder.Rebuild(ctx, grown)
	if err != nil {
		t.Fatal(err)
	}
	if first.Version() == second.Version() {
		t.Fatal("vocabulary should have changed")
	}
	vs, err := db.Versions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 1 || vs[0].Version != second.Version() || vs[0].Posts != 3 {
		t.Fatalf("stored versions: %+v", vs)
	}
}

func TestRefreshOnceServesStoredCorpusWhenImportFails(t *testing.T) {
	db, path := setup(t)
	ctx := context.Background()
	if _, err := RunImportOnce(ctx, db, path, normalize.Options{}, false); err != nil {
		t.Fatal(err)
	}
	holder := NewIndexHolder(0, nil)
	rebuilt, err := RefreshOnce(ctx, db, holder, RefreshOptions{SourcePath: filepath.Join(t.TempDir(), "gone.csv")})
	if err != nil || !rebuilt || holder.Current().Len() != 3 {
		t.Fatalf("refresh: %v %v %d", rebuilt, err, holder.Current().Len())
	}
}

func TestIndexHolderConcurrentReaders(t *testing.T) {
	holder := NewIndexHolder(0, nil)
	ctx := context.Background()
	var posts []model.PostMetrics
	for i := 0; i < 20; i++ {
		posts = append(posts, model.PostMetrics{
			PostID:     string(rune('a' + i)),
			PostType:   model.PostTypePhoto,
			Likes:      int64(i),
			DatePosted: time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC),
		})
	}
	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		c, _ := model.NewCorpus(posts[:i*4])
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = holder.Rebuild(ctx, c)
		}()
		go func() {
			defer wg.Done()
			snap, ix := holder.Snapshot()
			if snap.Len() != ix.Len() {
				t.Errorf("corpus and index out of step: %d vs %d", snap.Len(), ix.Len())
			}
		}()
	}
	wg.Wait()
}

func TestRunRefreshLoopStopsOnCancel(t *testing.T) {
	db, path := setup(t)
	holder := NewIndexHolder(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunRefreshLoop(ctx, db, holder, RefreshOptions{Interval: 10 * time.Millisecond, SourcePath: path})
	}()
	deadline := time.Now().Add(5 * time.Second)
	for holder.BuiltAt().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if holder.Current().Len() != 3 {
		t.Fatalf("index size %d", holder.Current().Len())
	}
}
