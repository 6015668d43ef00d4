package jobs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"postpulse/internal/ingest"
	"postpulse/internal/logging"
	"postpulse/internal/metrics"
	"postpulse/internal/model"
	"postpulse/internal/normalize"
	"postpulse/internal/store/sqlitevec"
)

const cursorPrefix = "import:"

// ImportSummary reports one import run.
type ImportSummary struct {
	BatchID  string                      `json:"batch_id,omitempty"`
	Source   string                      `json:"source"`
	Total    int                         `json:"total"`
	Accepted int                         `json:"accepted"`
	Rejected []*model.InvalidRecordError `json:"rejected,omitempty"`
	// Skipped is set when the file is unchanged since the last import.
	Skipped bool `json:"skipped,omitempty"`
}

// RunImportOnce reads path, normalizes its rows and upserts the accepted posts.
// Rejected rows are logged and counted, never fatal. A file whose checksum
// matches the last import is skipped unless force is set.
func RunImportOnce(ctx context.Context, db *sqlitevec.DB, path string, opts normalize.Options, force bool) (ImportSummary, error) {
	sum := ImportSummary{Source: path}
	start := time.Now()
	metrics.ImportRuns.Inc()
	fail := func(err error) (ImportSummary, error) {
		metrics.ImportErrors.Inc()
		logging.Error("import_error", map[string]any{"source": path, "error": err.Error()})
		return sum, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	h := sha256.Sum256(b)
	checksum := hex.EncodeToString(h[:])
	key := cursorPrefix + filepath.Base(path)
	if !force {
		if prev, err := db.LoadCursor(ctx, key); err == nil && prev == checksum {
			sum.Skipped = true
			logging.Info("import_skip", map[string]any{"source": path})
			return sum, nil
		}
	}

	rows, err := ingest.Read(bytes.NewReader(b), path)
	if err != nil {
		return fail(err)
	}
	res := normalize.New(opts).Batch(rows)
	sum.BatchID, sum.Total, sum.Accepted, sum.Rejected = res.BatchID, res.Total, res.Accepted(), res.Rejected
	for _, r := range res.Rejected {
		metrics.IncRejected(r.Field)
		logging.Warn("import_rejected", map[string]any{
			"batch_id": res.BatchID, "index": r.Index, "post_id": r.PostID, "field": r.Field, "reason": r.Reason,
		})
	}
	if err := db.PutPosts(ctx, res.Posts); err != nil {
		return fail(err)
	}
	if err := db.PutImport(ctx, sqlitevec.ImportRecord{
		BatchID: res.BatchID, TS: time.Now().UTC(), Source: path,
		Total: res.Total, Accepted: res.Accepted(), Rejected: res.Rejected,
	}); err != nil {
		return fail(err)
	}
	_ = db.SaveCursor(ctx, key, checksum)
	metrics.ObserveImportDuration(start)
	logging.Info("import_once", map[string]any{
		"batch_id": res.BatchID, "source": path, "total": res.Total, "accepted": res.Accepted(), "rejected": len(res.Rejected),
	})
	return sum, nil
}
