package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"postpulse/internal/model"
	"postpulse/internal/similarity"
)

// DB wraps a SQLite database holding the post corpus, import history and
// versioned feature vectors.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared across calls
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS posts (
	  post_id TEXT PRIMARY KEY,
	  post_type TEXT NOT NULL,
	  likes INTEGER NOT NULL,
	  comments INTEGER NOT NULL,
	  shares INTEGER NOT NULL,
	  date_posted TEXT NOT NULL,
	  hashtags TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_type ON posts(post_type);
	CREATE TABLE IF NOT EXISTS post_vectors (
	  version TEXT NOT NULL,
	  post_id TEXT NOT NULL,
	  post_type TEXT NOT NULL,
	  score REAL NOT NULL,
	  vector BLOB NOT NULL,
	  created_at INTEGER NOT NULL,
	  PRIMARY KEY (version, post_id)
	);
	CREATE TABLE IF NOT EXISTS imports (
	  batch_id TEXT PRIMARY KEY,
	  ts INTEGER NOT NULL,
	  source TEXT NOT NULL,
	  total INTEGER NOT NULL,
	  accepted INTEGER NOT NULL,
	  rejected TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_imports_ts ON imports(ts);
	CREATE TABLE IF NOT EXISTS cursors (
	  name TEXT PRIMARY KEY,
	  value TEXT NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	`)
	return err
}

// PutPosts upserts posts by post_id.
func (d *DB) PutPosts(ctx context.Context, posts []model.PostMetrics) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO posts(post_id, post_type, likes, comments, shares, date_posted, hashtags)
	VALUES(?,?,?,?,?,?,?)
	ON CONFLICT(post_id) DO UPDATE SET post_type=excluded.post_type, likes=excluded.likes, comments=excluded.comments,
	  shares=excluded.shares, date_posted=excluded.date_posted, hashtags=excluded.hashtags`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range posts {
		tags := p.Hashtags
		if tags == nil {
			tags = []string{}
		}
		tb, _ := json.Marshal(tags)
		if _, err := stmt.ExecContext(ctx, p.PostID, string(p.PostType), p.Likes, p.Comments, p.Shares,
			p.DatePosted.Format(time.RFC3339Nano), string(tb)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadPosts returns every stored post ordered by post_id. Timestamps keep the
// offset they were imported with.
func (d *DB) LoadPosts(ctx context.Context) ([]model.PostMetrics, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT post_id, post_type, likes, comments, shares, date_posted, hashtags FROM posts ORDER BY post_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PostMetrics
	for rows.Next() {
		var p model.PostMetrics
		var typ, date, tags string
		if err := rows.Scan(&p.PostID, &typ, &p.Likes, &p.Comments, &p.Shares, &date, &tags); err != nil {
			return nil, err
		}
		p.PostType = model.PostType(typ)
		if p.DatePosted, err = time.Parse(time.RFC3339Nano, date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &p.Hashtags); err != nil {
			return nil, err
		}
		if len(p.Hashtags) == 0 {
			p.Hashtags = nil
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadCorpus snapshots the stored posts.
func (d *DB) LoadCorpus(ctx context.Context) (model.Corpus, error) {
	posts, err := d.LoadPosts(ctx)
	if err != nil {
		return model.Corpus{}, err
	}
	return model.NewCorpus(posts)
}

// Upsert replaces every vector stored under version.
func (d *DB) Upsert(ctx context.Context, version string, entries []similarity.Entry) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_vectors WHERE version=?`, version); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO post_vectors(version, post_id, post_type, score, vector, created_at) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := time.Now().Unix()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, version, e.PostID, string(e.PostType), e.Score, encodeF32(e.Vector), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search scans the vectors of version and returns the k nearest by cosine
// distance.
func (d *DB) Search(ctx context.Context, version string, vec similarity.FeatureVector, k int) ([]similarity.Neighbor, error) {
	if k < 1 {
		return nil, model.ErrInvalidK
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT post_id, score, vector FROM post_vectors WHERE version=?`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []similarity.Neighbor{}
	for rows.Next() {
		var id string
		var score float64
		var vb []byte
		if err := rows.Scan(&id, &score, &vb); err != nil {
			return nil, err
		}
		out = append(out, similarity.Neighbor{PostID: id, Score: score, Distance: similarity.CosineDistance(vec, decodeF32(vb))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	similarity.SortNeighbors(out)
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// VersionInfo summarizes one stored vector version.
type VersionInfo struct {
	Version   string    `json:"version"`
	Posts     int       `json:"posts"`
	CreatedAt time.Time `json:"created_at"`
}

// Versions lists stored vector versions, newest first.
func (d *DB) Versions(ctx context.Context) ([]VersionInfo, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT version, COUNT(*), MAX(created_at) FROM post_vectors GROUP BY version ORDER BY MAX(created_at) DESC, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VersionInfo
	for rows.Next() {
		var v VersionInfo
		var ts int64
		if err := rows.Scan(&v.Version, &v.Posts, &ts); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVersion drops every vector stored under version.
func (d *DB) DeleteVersion(ctx context.Context, version string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM post_vectors WHERE version=?`, version)
	return err
}

// ImportRecord is a stored summary of one import batch.
type ImportRecord struct {
	BatchID  string                      `json:"batch_id"`
	TS       time.Time                   `json:"ts"`
	Source   string                      `json:"source"`
	Total    int                         `json:"total"`
	Accepted int                         `json:"accepted"`
	Rejected []*model.InvalidRecordError `json:"rejected,omitempty"`
}

// PutImport records an import batch and its rejected rows.
func (d *DB) PutImport(ctx context.Context, r ImportRecord) error {
	rb, _ := json.Marshal(r.Rejected)
	_, err := d.sql.ExecContext(ctx, `INSERT INTO imports(batch_id, ts, source, total, accepted, rejected) VALUES(?,?,?,?,?,?)`,
		r.BatchID, r.TS.Unix(), r.Source, r.Total, r.Accepted, string(rb))
	return err
}

// LoadImports returns import records in [start, end).
func (d *DB) LoadImports(ctx context.Context, start, end time.Time) ([]ImportRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT batch_id, ts, source, total, accepted, COALESCE(rejected, 'null') FROM imports WHERE ts>=? AND ts<? ORDER BY ts`, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImportRecord
	for rows.Next() {
		var r ImportRecord
		var ts int64
		var rejected string
		if err := rows.Scan(&r.BatchID, &ts, &r.Source, &r.Total, &r.Accepted, &rejected); err != nil {
			return nil, err
		}
		r.TS = time.Unix(ts, 0).UTC()
		if err := json.Unmarshal([]byte(rejected), &r.Rejected); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCursor stores a named bookkeeping value, e.g. the last imported file
// checksum.
func (d *DB) SaveCursor(ctx context.Context, name, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(name, value, updated_at) VALUES(?,?,?) ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		name, value, time.Now().Unix())
	return err
}

// LoadCursor returns "" when name was never saved.
func (d *DB) LoadCursor(ctx context.Context, name string) (string, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name=?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func encodeF32(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v[i]))
	}
	return b
}

func decodeF32(b []byte) similarity.FeatureVector {
	n := len(b) / 4
	v := make(similarity.FeatureVector, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
