// Package pgvector stores chunk vectors in PostgreSQL with the pgvector extension.
// Similarity is cosine distance (the <=> operator).
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

type Index struct {
	db         *sql.DB
	collection string
	table      string
}

var _ vector.Index = (*Index)(nil)

func NewIndex(db *sql.DB, collection string) *Index {
	return &Index{db: db, collection: collection, table: pq.QuoteIdentifier(TableName(collection))}
}

// TableName lower-cases the collection and replaces anything but letters,
// digits and underscores.
func TableName(collection string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(collection) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "chunks"
	}
	return sb.String()
}

func (s *Index) schema() string {
	return fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
    chunk_id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    location_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset INTEGER NOT NULL,
    overlap INTEGER NOT NULL,
    content TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    doc_date BIGINT NOT NULL,
    doc_type TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL DEFAULT '',
    file_type TEXT NOT NULL DEFAULT '',
    embedding vector NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (location_id);
CREATE TABLE IF NOT EXISTS vector_index_meta (
    collection TEXT PRIMARY KEY,
    embedding_model TEXT NOT NULL
);`, s.table, pq.QuoteIdentifier(TableName(s.collection)+"_location_idx"))
}

func (s *Index) EnsureModel(ctx context.Context, model string) error {
	if _, err := s.db.ExecContext(ctx, s.schema()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_index_meta (collection, embedding_model) VALUES ($1, $2) ON CONFLICT (collection) DO NOTHING`,
		s.collection, model); err != nil {
		return fmt.Errorf("record model: %w", err)
	}

	var recorded string
	if err := s.db.QueryRowContext(ctx,
		`SELECT embedding_model FROM vector_index_meta WHERE collection = $1`, s.collection).Scan(&recorded); err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	if recorded != model {
		return fmt.Errorf("%w: collection %s holds %q vectors, configured %q", vector.ErrModelMismatch, s.collection, recorded, model)
	}
	return nil
}

func dateValue(d time.Time) int64 {
	if d.IsZero() {
		d = vector.MinDate
	}
	return d.Unix()
}

// Upsert writes all entries in one transaction so searches never observe a
// partially written document.
func (s *Index) Upsert(ctx context.Context, entries []document.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (
    chunk_id, document_id, location_id, chunk_index, start_offset, end_offset, overlap, content,
    url, category, title, doc_date, doc_type, summary, file_name, file_type, embedding
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (chunk_id) DO UPDATE SET
    document_id = EXCLUDED.document_id,
    location_id = EXCLUDED.location_id,
    chunk_index = EXCLUDED.chunk_index,
    start_offset = EXCLUDED.start_offset,
    end_offset = EXCLUDED.end_offset,
    overlap = EXCLUDED.overlap,
    content = EXCLUDED.content,
    url = EXCLUDED.url,
    category = EXCLUDED.category,
    title = EXCLUDED.title,
    doc_date = EXCLUDED.doc_date,
    doc_type = EXCLUDED.doc_type,
    summary = EXCLUDED.summary,
    file_name = EXCLUDED.file_name,
    file_type = EXCLUDED.file_type,
    embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		md := e.Metadata
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.DocumentID, e.LocationID, e.Index, e.Start, e.End, e.Overlap, e.Text,
			md.URL, md.Category, md.Title, dateValue(md.Date), md.Type, md.Summary, md.FileName, md.FileType,
			pgvector.NewVector(e.Vector),
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Index) DeleteLocation(ctx context.Context, locationID, keepDocumentID string, keepChunks int) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE location_id = $1 AND (document_id <> $2 OR chunk_index >= $3)`, s.table),
		locationID, keepDocumentID, keepChunks)
	return err
}

func (s *Index) Search(ctx context.Context, vec []float32, f vector.Filters, topK int) ([]vector.Hit, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	categories := f.Categories
	if categories == nil {
		categories = []string{}
	}

	query := fmt.Sprintf(`SELECT chunk_id, document_id, location_id, chunk_index, start_offset, end_offset, overlap, content,
    url, category, title, doc_date, doc_type, summary, file_name, file_type, embedding <=> $1 AS distance
FROM %s
WHERE doc_date BETWEEN $2 AND $3
  AND (cardinality($4::text[]) = 0 OR category = ANY($4))
ORDER BY distance, chunk_id
LIMIT $5`, s.table)

	rows, err := s.db.QueryContext(ctx, query,
		pgvector.NewVector(vec), f.From.Unix(), f.To.Unix(), pq.Array(categories), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var (
			c        document.Chunk
			date     int64
			distance float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.LocationID, &c.Index, &c.Start, &c.End, &c.Overlap, &c.Text,
			&c.Metadata.URL, &c.Metadata.Category, &c.Metadata.Title, &date, &c.Metadata.Type, &c.Metadata.Summary,
			&c.Metadata.FileName, &c.Metadata.FileType, &distance); err != nil {
			return nil, err
		}
		if date != vector.MinDate.Unix() {
			c.Metadata.Date = time.Unix(date, 0).UTC()
		}
		hits = append(hits, vector.Hit{Chunk: c, Score: vector.ScoreFromDistance(float32(distance))})
	}
	return hits, rows.Err()
}

func (s *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}
