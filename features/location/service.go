package location

import (
	"context"
	"time"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

const DefaultClaimTTL = time.Hour

type Service struct {
	repo     Repository
	claimTTL time.Duration
}

func NewService(repo Repository, claimTTL time.Duration) *Service {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &Service{repo: repo, claimTTL: claimTTL}
}

// Filter drops duplicates and, unless force is set, locations that already
// reached a terminal status.
func (s *Service) Filter(ctx context.Context, locs []source.Location, force bool) ([]source.Location, error) {
	seen := make(map[string]bool, len(locs))
	unique := make([]source.Location, 0, len(locs))
	ids := make([]string, 0, len(locs))
	for _, loc := range locs {
		id := loc.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, loc)
		ids = append(ids, id)
	}
	if force {
		return unique, nil
	}

	done, err := s.repo.Terminal(ctx, ids)
	if err != nil {
		return nil, err
	}
	pending := unique[:0]
	for _, loc := range unique {
		if !done[loc.ID()] {
			pending = append(pending, loc)
		}
	}
	return pending, nil
}

// Claim returns the token that owns loc until its outcome is recorded, or an
// empty token when loc is not claimable.
func (s *Service) Claim(ctx context.Context, loc source.Location, force bool) (string, error) {
	return s.repo.Claim(ctx, loc, s.claimTTL, force)
}

func (s *Service) Complete(ctx context.Context, id, token, documentID, contentHash string, chunkCount int) error {
	return s.repo.Complete(ctx, id, token, documentID, contentHash, chunkCount)
}

func (s *Service) Skip(ctx context.Context, id, token, outcome, reason string) error {
	return s.repo.Skip(ctx, id, token, outcome, reason)
}

func (s *Service) Fail(ctx context.Context, id, token, reason string) error {
	return s.repo.Fail(ctx, id, token, reason)
}

func (s *Service) Get(ctx context.Context, id string) (*State, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListFailed(ctx context.Context) ([]State, error) {
	return s.repo.ListFailed(ctx)
}

// Reset makes a location eligible for the next run regardless of its status.
func (s *Service) Reset(ctx context.Context, id string) error {
	return s.repo.Reset(ctx, id)
}

func (s *Service) Counts(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
