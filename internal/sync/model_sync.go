package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/model"
)

// ModelSync synchronises one record type.
type ModelSync interface {
	Resource() model.Resource
	Push(ctx context.Context) error
	Pull(ctx context.Context) error
	// Sync attempts both push and pull; a failure of one does not skip the other.
	Sync(ctx context.Context) error
}

var _ ModelSync = (*RecordSync[model.Patient])(nil)

// RecordSync binds a Coordinator to one repository and its push/pull calls.
type RecordSync[T any] struct {
	coord *Coordinator[T]
	r     model.Resource
	repo  Repository[T]
	send  PushFunc[T]
	fetch PullFunc[T]
}

// NewRecordSync returns the sync for r. A pull-only resource or a nil send makes Push a no-op.
func NewRecordSync[T any](r model.Resource, repo Repository[T], tokens TokenStore, send PushFunc[T], fetch PullFunc[T], log *zap.Logger) *RecordSync[T] {
	if r.PullOnly() {
		send = nil
	}
	return &RecordSync[T]{
		coord: NewCoordinator[T](r, tokens, log),
		r:     r,
		repo:  repo,
		send:  send,
		fetch: fetch,
	}
}

// NewAPIRecordSync wires the sync for r to the ClinicSync client.
func NewAPIRecordSync[T any](r model.Resource, repo Repository[T], tokens TokenStore, c *api.Client, pageSize int, log *zap.Logger) *RecordSync[T] {
	return NewRecordSync(r, repo, tokens, APIPush[T](c, r), APIPull[T](c, r, pageSize), log)
}

// Resource names the record type this instance syncs.
func (s *RecordSync[T]) Resource() model.Resource { return s.r }

// Push uploads pending local records. It is a no-op for pull-only types.
func (s *RecordSync[T]) Push(ctx context.Context) error {
	if s.send == nil {
		return nil
	}
	return s.coord.Push(ctx, s.repo, s.send)
}

// Pull fetches server changes from the stored cursor onwards.
func (s *RecordSync[T]) Pull(ctx context.Context) error {
	return s.coord.Pull(ctx, s.repo, s.fetch)
}

// Sync runs Push and then Pull. Pull runs even when Push failed; both errors are returned joined.
func (s *RecordSync[T]) Sync(ctx context.Context) error {
	pushErr := s.Push(ctx)
	pullErr := s.Pull(ctx)
	return errors.Join(pushErr, pullErr)
}

// APIPush sends batches of r through the Push RPC.
func APIPush[T any](c *api.Client, r model.Resource) PushFunc[T] {
	return func(ctx context.Context, records []T) error {
		return api.PushRecords(ctx, c, r, records)
	}
}

// APIPull fetches pages of r through the Pull RPC.
func APIPull[T any](c *api.Client, r model.Resource, limit int) PullFunc[T] {
	return func(ctx context.Context, token *string) (PullPage[T], error) {
		records, resp, err := api.PullRecords[T](ctx, c, r, token, limit)
		if err != nil {
			return PullPage[T]{}, err
		}
		return PullPage[T]{Records: records, NextToken: resp.ProcessToken, HasMore: resp.HasMore}, nil
	}
}
