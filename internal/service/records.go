package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/and161185/clinic-sync/internal/convert"
	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
	"github.com/and161185/clinic-sync/internal/repository"
)

// RecordService defines push/pull over synchronised record types.
type RecordService interface {
	// Push stores a batch of one record type atomically.
	Push(ctx context.Context, r model.Resource, changes []model.RecordChange) error
	// Pull returns the page after token together with the next token and whether more remain.
	Pull(ctx context.Context, r model.Resource, token *string, limit int) (Page, error)
	// SeedFacilities provisions server-owned facility records.
	SeedFacilities(ctx context.Context, facilities []model.Facility) error
}

// Page is one pull result.
type Page struct {
	Changes []model.RecordChange
	Token   string
	HasMore bool
}

type RecordServiceImpl struct {
	repo     repository.RecordRepository
	maxBatch int
	maxPage  int
}

// NewRecordService constructs RecordService with batch and page limits.
func NewRecordService(repo repository.RecordRepository, maxBatch, maxPage int) *RecordServiceImpl {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	if maxPage <= 0 {
		maxPage = 500
	}
	return &RecordServiceImpl{repo: repo, maxBatch: maxBatch, maxPage: maxPage}
}

// Push validates the batch and delegates atomic upsert to the repository.
// Pull-only types are owned by the server and cannot be pushed.
func (s *RecordServiceImpl) Push(ctx context.Context, r model.Resource, changes []model.RecordChange) error {
	if !r.Valid() {
		return fmt.Errorf("%w: unknown resource %q", errs.ErrInvalidInput, r)
	}
	if r.PullOnly() {
		return errs.ErrPullOnly
	}
	if len(changes) == 0 {
		return nil
	}
	if len(changes) > s.maxBatch {
		return fmt.Errorf("%w: batch too large (%d > %d)", errs.ErrInvalidInput, len(changes), s.maxBatch)
	}
	return s.repo.UpsertBatch(ctx, r, changes)
}

// Pull returns changes with version greater than token, oldest first.
// An empty page keeps the caller's token.
func (s *RecordServiceImpl) Pull(ctx context.Context, r model.Resource, token *string, limit int) (Page, error) {
	if !r.Valid() {
		return Page{}, fmt.Errorf("%w: unknown resource %q", errs.ErrInvalidInput, r)
	}
	since, err := parseToken(token)
	if err != nil {
		return Page{}, err
	}
	if limit <= 0 || limit > s.maxPage {
		limit = s.maxPage
	}

	changes, more, err := s.repo.GetChangesSince(ctx, r, since, limit)
	if err != nil {
		return Page{}, err
	}
	last := since
	if n := len(changes); n > 0 {
		last = changes[n-1].Ver
	}
	return Page{Changes: changes, Token: strconv.FormatInt(last, 10), HasMore: more}, nil
}

func parseToken(token *string) (int64, error) {
	if token == nil || *token == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(*token, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: bad process token %q", errs.ErrInvalidInput, *token)
	}
	return v, nil
}

// SeedFacilities upserts facilities; entries not newer than the stored ones are ignored.
func (s *RecordServiceImpl) SeedFacilities(ctx context.Context, facilities []model.Facility) error {
	changes := make([]model.RecordChange, 0, len(facilities))
	for i, f := range facilities {
		c, err := convert.ChangeFromRecord(model.ResourceFacilities, f)
		if err != nil {
			return fmt.Errorf("facility[%d]: %w", i, err)
		}
		changes = append(changes, c)
	}
	return s.repo.UpsertBatch(ctx, model.ResourceFacilities, changes)
}
