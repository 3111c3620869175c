// Package sync reconciles local records with the server, one record type at a time.
package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/errs"
	"github.com/and161185/clinic-sync/internal/model"
)

// Repository is the local storage of one record type as seen by the sync engine.
type Repository[T any] interface {
	PendingSync(ctx context.Context) ([]T, error)
	MarkSynced(ctx context.Context, records []T) error
	MergeWithLocalData(ctx context.Context, records []T) error
}

// TokenStore persists one pull cursor per key.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// PullPage is one page returned by the server.
type PullPage[T any] struct {
	Records   []T
	NextToken string
	HasMore   bool
}

// PushFunc sends an ordered batch to the server. The batch is accepted or rejected as a whole.
type PushFunc[T any] func(ctx context.Context, records []T) error

// PullFunc fetches the page following token; a nil token asks for everything.
type PullFunc[T any] func(ctx context.Context, token *string) (PullPage[T], error)

// Coordinator runs push and pull cycles for one record type.
type Coordinator[T any] struct {
	resource model.Resource
	tokens   TokenStore
	log      *zap.Logger
}

// NewCoordinator returns a coordinator that keeps the cursor for r in tokens.
func NewCoordinator[T any](r model.Resource, tokens TokenStore, log *zap.Logger) *Coordinator[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator[T]{resource: r, tokens: tokens, log: log.With(zap.String("resource", string(r)))}
}

// Push sends every pending record as one batch and marks exactly that batch synced.
// With nothing pending no call is made.
func (c *Coordinator[T]) Push(ctx context.Context, repo Repository[T], send PushFunc[T]) error {
	pending, err := repo.PendingSync(ctx)
	if err != nil {
		return c.pushErr(errs.Unexpected(fmt.Errorf("list pending: %w", err)))
	}
	if len(pending) == 0 {
		return nil
	}
	if err := send(ctx, pending); err != nil {
		return c.pushErr(err)
	}
	if err := repo.MarkSynced(ctx, pending); err != nil {
		return c.pushErr(errs.Unexpected(fmt.Errorf("mark synced: %w", err)))
	}
	c.log.Debug("pushed", zap.Int("records", len(pending)))
	return nil
}

// Pull fetches pages until the server reports no more. The cursor is stored only after the
// page it belongs to has been merged, so a failure resumes from the last merged page.
func (c *Coordinator[T]) Pull(ctx context.Context, repo Repository[T], fetch PullFunc[T]) error {
	key := c.resource.TokenKey()
	cur, ok, err := c.tokens.Get(ctx, key)
	if err != nil {
		return c.pullErr(errs.Unexpected(fmt.Errorf("read cursor: %w", err)))
	}
	var token *string
	if ok && cur != "" {
		token = &cur
	}

	pages, merged := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return c.pullErr(errs.Network(err))
		}
		page, err := fetch(ctx, token)
		if err != nil {
			return c.pullErr(err)
		}
		if err := repo.MergeWithLocalData(ctx, page.Records); err != nil {
			return c.pullErr(errs.Unexpected(fmt.Errorf("merge page %d: %w", pages+1, err)))
		}
		pages++
		merged += len(page.Records)

		advanced := page.NextToken != "" && (token == nil || *token != page.NextToken)
		if advanced {
			if err := c.tokens.Set(ctx, key, page.NextToken); err != nil {
				return c.pullErr(errs.Unexpected(fmt.Errorf("store cursor: %w", err)))
			}
			next := page.NextToken
			token = &next
		}
		if !page.HasMore {
			break
		}
		if !advanced {
			return c.pullErr(errs.Unexpected(errors.New("server reported more pages without advancing the cursor")))
		}
	}
	c.log.Debug("pulled", zap.Int("pages", pages), zap.Int("records", merged))
	return nil
}

func (c *Coordinator[T]) pushErr(err error) error {
	return &PushError{Resource: c.resource, Err: err}
}

func (c *Coordinator[T]) pullErr(err error) error {
	return &PullError{Resource: c.resource, Err: err}
}

// PushError reports a failed push. Nothing of the batch was marked synced.
type PushError struct {
	Resource model.Resource
	Err      error
}

func (e *PushError) Error() string { return fmt.Sprintf("push %s: %v", e.Resource, e.Err) }

func (e *PushError) Unwrap() error { return e.Err }

// Kind classifies the failure (network, server or unexpected).
func (e *PushError) Kind() errs.Kind { return errs.KindOf(e.Err) }

// PullError reports a failed pull. Pages merged before the failure keep their cursor.
type PullError struct {
	Resource model.Resource
	Err      error
}

func (e *PullError) Error() string { return fmt.Sprintf("pull %s: %v", e.Resource, e.Err) }

func (e *PullError) Unwrap() error { return e.Err }

func (e *PullError) Kind() errs.Kind { return errs.KindOf(e.Err) }
