package vector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVecIndex stores vectors in a sqlite-vec vec0 virtual table. vec0
// rows are keyed by integer, so chunk IDs are mapped through vec_ids.
type SQLiteVecIndex struct {
	db         *sql.DB
	dimensions int
}

// OpenSQLiteVecIndex opens or creates the vector database at path.
func OpenSQLiteVecIndex(dimensions int, path string) (*SQLiteVecIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS vec_ids (
		rid INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL UNIQUE
	);
	CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
		rid INTEGER PRIMARY KEY,
		embedding float[%d]
	);`, dimensions)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init vector schema: %w", err)
	}
	return &SQLiteVecIndex{db: db, dimensions: dimensions}, nil
}

// Add upserts vectors in one transaction.
func (s *SQLiteVecIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, s.dimensions); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, id := range ids {
		if err := removeTx(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO vec_ids (chunk_id) VALUES (?)`, id)
		if err != nil {
			return fmt.Errorf("insert vector id %s: %w", id, err)
		}
		rid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		blob, err := sqlite_vec.SerializeFloat32(vectors[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunks (rid, embedding) VALUES (?, ?)`, rid, blob); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Search runs a KNN query. vec0 reports euclidean distance, which is
// converted back to cosine similarity for unit vectors.
func (s *SQLiteVecIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(len(query), s.dimensions); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.chunk_id, knn.distance
		FROM (SELECT rid, distance FROM vec_chunks WHERE embedding MATCH ? AND k = ?) knn
		JOIN vec_ids i ON i.rid = knn.rid
		ORDER BY knn.distance, i.chunk_id
	`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var out []*VectorResult
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		out = append(out, &VectorResult{ID: id, Score: distanceToCosine(dist)})
	}
	return out, rows.Err()
}

// Remove deletes vectors by ID.
func (s *SQLiteVecIndex) Remove(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if err := removeTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func removeTx(ctx context.Context, tx *sql.Tx, id string) error {
	var rid int64
	err := tx.QueryRowContext(ctx, `SELECT rid FROM vec_ids WHERE chunk_id = ?`, id).Scan(&rid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE rid = ?`, rid); err != nil {
		return fmt.Errorf("delete embedding for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_ids WHERE rid = ?`, rid); err != nil {
		return fmt.Errorf("delete vector id %s: %w", id, err)
	}
	return nil
}

// Size returns the number of stored vectors, or 0 if counting fails.
func (s *SQLiteVecIndex) Size() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vec_ids`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Dimensions returns the vector dimension.
func (s *SQLiteVecIndex) Dimensions() int {
	return s.dimensions
}

// Flush is a no-op; every write is committed.
func (s *SQLiteVecIndex) Flush() error {
	return nil
}

// Close closes the database.
func (s *SQLiteVecIndex) Close() error {
	return s.db.Close()
}

// Version reports the loaded sqlite-vec extension version.
func (s *SQLiteVecIndex) Version(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&v)
	return strings.TrimSpace(v), err
}
