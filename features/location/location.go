package location

import (
	"context"
	"errors"
	"time"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Terminal statuses are never reclaimed unless forced or reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

var (
	ErrNotFound = errors.New("location not found")
	// ErrClaimLost is returned when an outcome is recorded with a claim token
	// that no longer owns the location.
	ErrClaimLost = ingest.ErrClaimLost
)

// State is the ledger row for one Location.
type State struct {
	ID          string    `json:"id"`
	Origin      string    `json:"origin"`
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	Outcome     string    `json:"outcome,omitempty"`
	DocumentID  string    `json:"document_id,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	// Claim marks loc as processing and returns the claim token that must be
	// passed to Complete, Skip or Fail. The token is empty when another run owns
	// the location or it already reached a terminal status and force is not set.
	Claim(ctx context.Context, loc source.Location, ttl time.Duration, force bool) (string, error)
	Complete(ctx context.Context, id, token, documentID, contentHash string, chunkCount int) error
	Skip(ctx context.Context, id, token, outcome, reason string) error
	Fail(ctx context.Context, id, token, reason string) error
	Get(ctx context.Context, id string) (*State, error)
	// Terminal returns the subset of ids with a terminal status.
	Terminal(ctx context.Context, ids []string) (map[string]bool, error)
	ListFailed(ctx context.Context) ([]State, error)
	Reset(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
