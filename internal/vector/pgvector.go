package vector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// DefaultPGTable is the table used when none is configured.
const DefaultPGTable = "chunk_embeddings"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorIndex stores embeddings in Postgres with the pgvector extension and an
// HNSW cosine index. The database is the persistence, so Save and Load do nothing.
type PGVectorIndex struct {
	db         *sql.DB
	table      string
	dimensions int
}

var _ VectorIndex = (*PGVectorIndex)(nil)

// NewPGVectorIndex connects to dsn and creates the extension, table, and index if needed.
func NewPGVectorIndex(ctx context.Context, dsn, table string, dimensions int) (*PGVectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if table == "" {
		table = DefaultPGTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	p := &PGVectorIndex{db: db, table: table, dimensions: dimensions}
	if err := p.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize pgvector schema: %w", err)
	}
	return p, nil
}

func (p *PGVectorIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, embedding vector(%d) NOT NULL)`, p.table, p.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_hnsw ON %s USING hnsw (embedding vector_cosine_ops)`, p.table, p.table),
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Add upserts vectors in one transaction.
func (p *PGVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if err := checkDims(p.dimensions, vectors...); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, embedding) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding`, p.table))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert vector %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Search orders by cosine distance (<=>) and reports score = 1 - distance.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(p.dimensions, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, 1 - (embedding <=> $1) AS score FROM %s ORDER BY embedding <=> $1, id LIMIT $2`, p.table),
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search failed: %w", err)
	}
	defer rows.Close()

	results := []*VectorResult{}
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortResults(results)
	return results, nil
}

func (p *PGVectorIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table), pq.Array(ids))
	return err
}

func (p *PGVectorIndex) IDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, p.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PGVectorIndex) Save(string) error { return nil }

func (p *PGVectorIndex) Load(string) error { return nil }

// Size returns the row count, or 0 when the query fails.
func (p *PGVectorIndex) Size() int {
	var n int
	if err := p.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (p *PGVectorIndex) Close() error {
	return p.db.Close()
}
