package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Claim(ctx context.Context, loc source.Location, ttl time.Duration, force bool) (string, error) {
	query := `INSERT INTO locations (id, origin, url, status, attempts, claim_token, updated_at)
		VALUES ($1, $2, $3, 'processing', 1, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'processing', reason = '', attempts = locations.attempts + 1, claim_token = $6, updated_at = NOW()
		WHERE locations.status = 'failed'
			OR (locations.status = 'processing' AND locations.updated_at < NOW() - make_interval(secs => $4))
			OR ($5 AND locations.status <> 'processing')
		RETURNING id`
	token := uuid.NewString()
	var id string
	err := r.db.QueryRowContext(ctx, query, loc.ID(), loc.Origin, loc.URL, ttl.Seconds(), force, token).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("claim location %s: %w", loc.ID(), err)
	}
	return token, nil
}

// Outcome updates only apply while the row is still processing under token.
const ownedBy = ` WHERE id = $1 AND claim_token = $2 AND status = 'processing'`

func (r *PostgresRepo) Complete(ctx context.Context, id, token, documentID, contentHash string, chunkCount int) error {
	query := `UPDATE locations SET status = 'completed', outcome = 'ingested', document_id = $3, content_hash = $4, chunk_count = $5, reason = '', updated_at = NOW()` + ownedBy
	return r.exec(ctx, ErrClaimLost, query, id, token, documentID, contentHash, chunkCount)
}

func (r *PostgresRepo) Skip(ctx context.Context, id, token, outcome, reason string) error {
	query := `UPDATE locations SET status = 'skipped', outcome = $3, reason = $4, updated_at = NOW()` + ownedBy
	return r.exec(ctx, ErrClaimLost, query, id, token, outcome, reason)
}

func (r *PostgresRepo) Fail(ctx context.Context, id, token, reason string) error {
	query := `UPDATE locations SET status = 'failed', outcome = 'failed', reason = $3, updated_at = NOW()` + ownedBy
	return r.exec(ctx, ErrClaimLost, query, id, token, reason)
}

// Reset drops any outstanding claim, so a run still holding it can no longer
// record its outcome.
func (r *PostgresRepo) Reset(ctx context.Context, id string) error {
	query := `UPDATE locations SET status = 'failed', outcome = 'reset', reason = 'reset', claim_token = '', updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, ErrNotFound, query, id)
}

// exec returns missing when the statement touched no row.
func (r *PostgresRepo) exec(ctx context.Context, missing error, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

const stateColumns = `id, origin, url, status, outcome, document_id, content_hash, chunk_count, reason, attempts, updated_at`

func scanState(row interface{ Scan(...any) error }) (State, error) {
	var s State
	var status string
	err := row.Scan(&s.ID, &s.Origin, &s.URL, &status, &s.Outcome, &s.DocumentID, &s.ContentHash, &s.ChunkCount, &s.Reason, &s.Attempts, &s.UpdatedAt)
	s.Status = Status(status)
	return s, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*State, error) {
	query := `SELECT ` + stateColumns + ` FROM locations WHERE id = $1`
	s, err := scanState(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepo) Terminal(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT id FROM locations WHERE id = ANY($1) AND status IN ('completed', 'skipped')`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListFailed(ctx context.Context) ([]State, error) {
	query := `SELECT ` + stateColumns + ` FROM locations WHERE status = 'failed' ORDER BY updated_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM locations GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
