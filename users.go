/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package userstore

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

// NoMatchMessage is reported when a match-based operation finds no user.
const NoMatchMessage = "No person matched the query."

// Repository implements the users collection operations over a DataStore.
// It is safe for concurrent use when the underlying store is.
type Repository struct {
	store  datastore.DataStore[storagemodels.User]
	logger *zap.Logger
}

// RepositoryOption configures a Repository
type RepositoryOption func(*Repository)

// WithLogger sets the repository logger
func WithLogger(logger *zap.Logger) RepositoryOption {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository creates a Repository backed by store.
func NewRepository(store datastore.DataStore[storagemodels.User], opts ...RepositoryOption) *Repository {
	r := &Repository{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores user as a new document and returns its generated identifier.
func (r *Repository) Create(ctx context.Context, user storagemodels.User) (string, error) {
	id, err := r.store.Add(ctx, user)
	if err != nil {
		return "", err
	}
	r.logger.Debug("user created", zap.String("id", id), zap.Stringer("user", user))
	return id, nil
}

// Get reads one user by identifier.
func (r *Repository) Get(ctx context.Context, id string) (*storagemodels.Snapshot[storagemodels.User], error) {
	if id == "" {
		return nil, storeerrors.NewValidationError("id", "identifier is required")
	}
	return r.store.GetOne(ctx, id)
}

// ReadRange returns the users with from < age < to in ascending age order.
// Both bounds are exclusive. An empty range yields an empty list.
func (r *Repository) ReadRange(ctx context.Context, from, to int) ([]storagemodels.Snapshot[storagemodels.User], error) {
	q := storagemodels.NewQuery().
		WhereGreaterThan(storagemodels.FieldAge, from).
		WhereLessThan(storagemodels.FieldAge, to).
		OrderBy(storagemodels.FieldAge, storagemodels.Ascending)

	users, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []storagemodels.Snapshot[storagemodels.User]{}
	}
	return users, nil
}

// UpdateByMatch merges patch into every user whose three fields equal match.
// Fields absent from patch keep their value. By default each document is
// updated independently and per-document failures are collected in the
// result; WithAtomicMatch applies all updates or none.
func (r *Repository) UpdateByMatch(ctx context.Context, match storagemodels.User, patch storagemodels.Patch, opts ...MatchOption) (*MatchResult, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	return r.forEachMatch(ctx, "update", match, opts, func(b *storagemodels.Batch, id string) {
		b.Update(id, patch)
	}, func(ctx context.Context, id string) error {
		return r.store.Merge(ctx, id, patch)
	})
}

// DeleteByMatch removes every user whose three fields equal match.
func (r *Repository) DeleteByMatch(ctx context.Context, match storagemodels.User, opts ...MatchOption) (*MatchResult, error) {
	return r.forEachMatch(ctx, "delete", match, opts, func(b *storagemodels.Batch, id string) {
		b.Delete(id)
	}, r.store.Delete)
}

func (r *Repository) forEachMatch(
	ctx context.Context,
	op string,
	match storagemodels.User,
	opts []MatchOption,
	stage func(*storagemodels.Batch, string),
	apply func(context.Context, string) error,
) (*MatchResult, error) {
	settings := matchOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	matched, err := r.store.Query(ctx, match.MatchQuery())
	if err != nil {
		return nil, err
	}

	result := &MatchResult{Operation: op, Matched: len(matched)}
	if len(matched) == 0 {
		r.logger.Debug("no user matched", zap.String("operation", op), zap.Stringer("match", match))
		return result, nil
	}

	if settings.atomic {
		batch := storagemodels.NewBatch()
		for _, snap := range matched {
			stage(batch, snap.ID)
		}
		if err := r.store.CommitBatch(ctx, batch); err != nil {
			return result, err
		}
		for _, snap := range matched {
			result.Applied = append(result.Applied, snap.ID)
		}
		return result, nil
	}

	for _, snap := range matched {
		if err := apply(ctx, snap.ID); err != nil {
			r.logger.Warn("matched user not changed",
				zap.String("operation", op),
				zap.String("id", snap.ID),
				zap.Error(err))
			result.Failures = append(result.Failures, &storeerrors.DocumentError{Op: op, ID: snap.ID, Err: err})
			continue
		}
		result.Applied = append(result.Applied, snap.ID)
	}
	return result, nil
}

// MatchOption tunes UpdateByMatch and DeleteByMatch
type MatchOption func(*matchOptions)

type matchOptions struct {
	atomic bool
}

// WithAtomicMatch commits the changes to all matched users in one batch.
func WithAtomicMatch() MatchOption {
	return func(o *matchOptions) {
		o.atomic = true
	}
}

// MatchResult reports what a match-based operation did. Finding no user is a
// success with Matched == 0.
type MatchResult struct {
	Operation string
	Matched   int
	Applied   []string
	Failures  []*storeerrors.DocumentError
}

// NoMatch reports whether no user matched
func (m *MatchResult) NoMatch() bool {
	return m.Matched == 0
}

// Err returns the per-document failures joined, or nil.
func (m *MatchResult) Err() error {
	if len(m.Failures) == 0 {
		return nil
	}
	msgs := make([]string, len(m.Failures))
	for i, f := range m.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Errorf("%d of %d %ss failed: %s", len(m.Failures), m.Matched, m.Operation, strings.Join(msgs, "; "))
}

// Message summarises the result for display.
func (m *MatchResult) Message() string {
	if m.NoMatch() {
		return NoMatchMessage
	}
	if err := m.Err(); err != nil {
		return err.Error()
	}
	return SavedMessage
}
